package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/rumiri/dopay/internal/interfaces"
	"github.com/rumiri/dopay/internal/models"
	"github.com/rumiri/dopay/internal/namematch"
)

// Verifier decides whether a completed payment becomes an authorized
// download. It is the only component permitted to move a payment into
// authorized; no other path may mint a download token.
type Verifier struct {
	repo        interfaces.PaymentRepository
	publisher   interfaces.TransitionPublisher
	policy      namematch.Policy
	maxAttempts int
	logger      *zap.Logger
}

func NewVerifier(repo interfaces.PaymentRepository, publisher interfaces.TransitionPublisher, policy namematch.Policy, maxAttempts int, logger *zap.Logger) *Verifier {
	return &Verifier{repo: repo, publisher: publisher, policy: policy, maxAttempts: maxAttempts, logger: logger}
}

// VerifyName compares the claimed name against the gateway-reported one and
// resolves the payment to authorized or rejected. Retries after a rejection
// are allowed, up to the configured attempt limit, so a typo can be
// corrected. Every attempt records the claimed name for audit.
func (s *Verifier) VerifyName(ctx context.Context, paymentID, claimedName string) (bool, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrPaymentNotFound
		}
		return false, err
	}

	from := payment.Status
	switch from {
	case models.StatusGatewayDone:
	case models.StatusRejected:
		if payment.VerifyAttempts >= s.maxAttempts {
			return false, ErrTooManyAttempts
		}
	default:
		// Covers both "payment not done yet" and "already resolved".
		return false, ErrNotReady
	}

	if payment.GatewayName == "" {
		return false, ErrNameNotYetAvailable
	}

	matched := namematch.Matches(claimedName, payment.GatewayName, s.policy)
	to := models.StatusRejected
	if matched {
		to = models.StatusAuthorized
	}

	rows, err := s.repo.RecordVerification(ctx, paymentID, claimedName, from, to)
	if err != nil {
		return false, err
	}
	if rows == 0 {
		// A concurrent caller resolved the payment first.
		return false, ErrNotReady
	}

	recordTransition(ctx, s.publisher, s.logger, paymentID, from, to)
	if !matched {
		s.logger.Info("name verification rejected",
			zap.String("payment_id", paymentID),
			zap.String("claimed_name", claimedName),
		)
	}
	return matched, nil
}
