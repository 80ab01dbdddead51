package interfaces

import (
	"context"
	"time"

	"github.com/rumiri/dopay/internal/models"
)

// PaymentRepository defines the contract for payment and download token data
// access. Every status transition is a conditional update: the write only
// applies when the row still holds the expected prior status, and the caller
// checks the affected-row count to learn whether it won the transition.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.PaymentRequest) error
	GetByID(ctx context.Context, id string) (*models.PaymentRequest, error)
	SetCheckoutIDs(ctx context.Context, id, checkoutID, merchantID string) error

	// TransitionStatus moves id from one status to another, returning the
	// number of rows updated (0 means a concurrent caller got there first).
	TransitionStatus(ctx context.Context, id string, from, to models.Status) (int64, error)

	// CompleteGateway records the gateway-reported payer name and receipt
	// while moving pending -> gateway_done in the same conditional update.
	CompleteGateway(ctx context.Context, id, gatewayName, receipt string) (int64, error)

	// RecordVerification moves the payment to the verification outcome while
	// storing the claimed name and bumping the attempt counter.
	RecordVerification(ctx context.Context, id, claimedName string, from, to models.Status) (int64, error)

	InsertToken(ctx context.Context, token *models.DownloadToken) error
	GetToken(ctx context.Context, paymentID, secret string) (*models.DownloadToken, error)

	// ConsumeToken atomically marks an unconsumed, unexpired token as used,
	// returning the affected-row count so a losing racer observes 0.
	ConsumeToken(ctx context.Context, paymentID, secret string, now time.Time) (int64, error)

	Stats(ctx context.Context) (*models.Stats, error)
}
