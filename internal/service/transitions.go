package service

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/rumiri/dopay/internal/interfaces"
	"github.com/rumiri/dopay/internal/models"
)

var statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payment_status_transitions_total",
	Help: "Persisted payment status transitions.",
}, []string{"from", "to"})

// recordTransition is called after a conditional update won the transition:
// it logs, counts, and emits the audit event.
func recordTransition(ctx context.Context, publisher interfaces.TransitionPublisher, logger *zap.Logger, paymentID string, from, to models.Status) {
	statusTransitions.WithLabelValues(string(from), string(to)).Inc()

	logger.Info("payment status transition",
		zap.String("payment_id", paymentID),
		zap.String("from_status", string(from)),
		zap.String("to_status", string(to)),
	)

	if publisher != nil {
		publisher.PublishTransition(ctx, paymentID, string(from), string(to))
	}
}
