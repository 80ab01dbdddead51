package interfaces

import (
	"context"

	"github.com/rumiri/dopay/internal/gateway"
)

// GatewayClient is the minimal surface the reconciliation path needs from the
// mobile-money provider. Implementations must not touch the record store.
type GatewayClient interface {
	Initiate(ctx context.Context, phone string, amount int64, reference string) (*gateway.InitiateResult, error)
	QueryStatus(ctx context.Context, checkoutID string) (*gateway.QueryResult, error)
}

// TransitionPublisher emits an audit event for every persisted status change.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, paymentID string, from, to string)
}
