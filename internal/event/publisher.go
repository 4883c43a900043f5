// Package event publishes auth lifecycle events.
package event

import (
	"context"
	"log/slog"

	"github.com/utafrali/authgate/pkg/kafka"
	"github.com/utafrali/authgate/pkg/logger"
)

// Event types, also used as topic names.
const (
	UserRegistered         = "authgate.user.registered"
	SessionIssued          = "authgate.session.issued"
	PasswordResetRequested = "authgate.password.reset_requested"
	PasswordReset          = "authgate.password.reset"
)

const source = "authgate"

// Publisher emits lifecycle events. Implementations never fail the caller.
type Publisher interface {
	Publish(ctx context.Context, eventType, userID string, data any)
}

// Producer is satisfied by *kafka.Producer.
type Producer interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// KafkaPublisher sends events to Kafka, one topic per event type.
type KafkaPublisher struct {
	producer Producer
	logger   *slog.Logger
}

// NewKafkaPublisher creates a publisher over producer.
func NewKafkaPublisher(producer Producer, l *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, logger: l}
}

// Publish builds the envelope and sends it. Failures are logged.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType, userID string, data any) {
	ev, err := kafka.NewEvent(eventType, userID, source, data)
	if err != nil {
		logger.WithContext(ctx, p.logger).ErrorContext(ctx, "failed to build event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	ev.WithCorrelationID(logger.CorrelationIDFromContext(ctx))

	if err := p.producer.Publish(ctx, eventType, ev); err != nil {
		logger.WithContext(ctx, p.logger).WarnContext(ctx, "failed to publish event",
			slog.String("event_type", eventType),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, string, string, any) {}
