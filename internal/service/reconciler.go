package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rumiri/dopay/internal/gateway"
	"github.com/rumiri/dopay/internal/interfaces"
	"github.com/rumiri/dopay/internal/models"
)

// Reconciler owns the payment lifecycle up to gateway_done: it creates
// payment attempts, sends the push prompt, and reconciles pending payments
// against the gateway. It is the only writer of the gateway-reported name.
type Reconciler struct {
	repo      interfaces.PaymentRepository
	gateway   interfaces.GatewayClient
	publisher interfaces.TransitionPublisher
	logger    *zap.Logger
}

func NewReconciler(repo interfaces.PaymentRepository, gw interfaces.GatewayClient, publisher interfaces.TransitionPublisher, logger *zap.Logger) *Reconciler {
	return &Reconciler{repo: repo, gateway: gw, publisher: publisher, logger: logger}
}

// ReconcileResult is turned into the status response a polling client sees.
type ReconcileResult struct {
	Payment *models.PaymentRequest
	Status  models.Status
}

// Initiate creates a payment attempt and sends the STK push. A synchronous
// gateway rejection resolves the attempt to failed; a fresh attempt is needed
// to retry. Transport failures leave the attempt pending without a checkout
// id, which reconciliation treats as still waiting.
func (s *Reconciler) Initiate(ctx context.Context, phone, firstName string, amount decimal.Decimal) (*models.PaymentRequest, error) {
	payment := &models.PaymentRequest{
		ID:               uuid.NewString(),
		Phone:            phone,
		ClaimedFirstName: firstName,
		Amount:           amount,
		Status:           models.StatusPending,
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("creating payment record: %w", err)
	}

	result, err := s.gateway.Initiate(ctx, phone, amount.IntPart(), payment.ID)
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			if rows, terr := s.repo.TransitionStatus(ctx, payment.ID, models.StatusPending, models.StatusFailed); terr == nil && rows > 0 {
				recordTransition(ctx, s.publisher, s.logger, payment.ID, models.StatusPending, models.StatusFailed)
			}
		}
		return nil, err
	}

	if err := s.repo.SetCheckoutIDs(ctx, payment.ID, result.CheckoutID, result.MerchantID); err != nil {
		return nil, fmt.Errorf("recording checkout ids: %w", err)
	}
	payment.CheckoutID = result.CheckoutID
	payment.MerchantID = result.MerchantID

	s.logger.Info("STK push sent",
		zap.String("payment_id", payment.ID),
		zap.String("checkout_id", result.CheckoutID),
	)
	return payment, nil
}

// Reconcile brings the stored status of a payment up to date with the
// gateway. Any payment past pending is returned as stored, with no gateway
// traffic: repeated polls after resolution are free of side effects.
func (s *Reconciler) Reconcile(ctx context.Context, paymentID string) (*ReconcileResult, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	if payment.Status != models.StatusPending {
		return &ReconcileResult{Payment: payment, Status: payment.Status}, nil
	}

	// Push not yet accepted by the gateway, nothing to query.
	if payment.CheckoutID == "" {
		return &ReconcileResult{Payment: payment, Status: models.StatusPending}, nil
	}

	query, err := s.gateway.QueryStatus(ctx, payment.CheckoutID)
	if err != nil {
		// Transient: keep the last persisted status so the caller's
		// polling loop keeps trying.
		s.logger.Warn("gateway query failed, keeping stored status",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return &ReconcileResult{Payment: payment, Status: payment.Status}, nil
	}

	switch query.Outcome {
	case gateway.OutcomeStillProcessing:
		return &ReconcileResult{Payment: payment, Status: models.StatusPending}, nil

	case gateway.OutcomeCompleted:
		if query.PayerName == "" {
			// The gateway confirmed payment before delivering the payer
			// name; stay pending and pick the name up on a later query.
			return &ReconcileResult{Payment: payment, Status: models.StatusPending}, nil
		}
		rows, err := s.repo.CompleteGateway(ctx, paymentID, query.PayerName, query.Receipt)
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			return s.reload(ctx, paymentID)
		}
		recordTransition(ctx, s.publisher, s.logger, paymentID, models.StatusPending, models.StatusGatewayDone)
		payment.Status = models.StatusGatewayDone
		payment.GatewayName = query.PayerName
		payment.Receipt = query.Receipt
		return &ReconcileResult{Payment: payment, Status: models.StatusGatewayDone}, nil

	default:
		terminal := terminalStatus(query.Outcome)
		rows, err := s.repo.TransitionStatus(ctx, paymentID, models.StatusPending, terminal)
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			return s.reload(ctx, paymentID)
		}
		recordTransition(ctx, s.publisher, s.logger, paymentID, models.StatusPending, terminal)
		payment.Status = terminal
		return &ReconcileResult{Payment: payment, Status: terminal}, nil
	}
}

// reload is the loser's path after a conditional update found the row already
// moved on: observe the new state and return it without effect.
func (s *Reconciler) reload(ctx context.Context, paymentID string) (*ReconcileResult, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{Payment: payment, Status: payment.Status}, nil
}

func terminalStatus(outcome gateway.Outcome) models.Status {
	switch outcome {
	case gateway.OutcomeUserCanceled:
		return models.StatusCanceledByUser
	case gateway.OutcomeTimeout:
		return models.StatusTimedOut
	case gateway.OutcomeInsufficientFunds:
		return models.StatusInsufficientFunds
	case gateway.OutcomeInvalidPhone:
		return models.StatusInvalidPhone
	default:
		return models.StatusFailed
	}
}
