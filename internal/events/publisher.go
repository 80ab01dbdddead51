// Package events publishes payment status changes to kafka for downstream
// audit and reporting consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const Topic = "payment.status.changed"

type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewPublisher(brokers string, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers),
			Topic:    Topic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger,
	}
}

type transitionEvent struct {
	PaymentID      string    `json:"payment_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status"`
	Timestamp      time.Time `json:"timestamp"`
}

// PublishTransition is best effort: the status row is the source of truth and
// a failed publish must not fail the transition that already happened.
func (p *Publisher) PublishTransition(ctx context.Context, paymentID string, from, to string) {
	event := transitionEvent{
		PaymentID:      paymentID,
		Status:         to,
		PreviousStatus: from,
		Timestamp:      time.Now(),
	}
	value, _ := json.Marshal(event)

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(paymentID),
		Value: value,
	}); err != nil {
		p.logger.Error("failed to publish status change",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
