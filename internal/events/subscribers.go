package events

import (
	"context"

	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"go.uber.org/zap"
)

// Notifier logs every event for downstream notification pipelines that tail the service logs.
func Notifier(logger *zap.Logger) Handler {
	return func(_ context.Context, e Event) error {
		logger.Info("event",
			zap.String("event_id", e.ID),
			zap.String("event_type", e.Type),
			zap.String("category", string(e.Category)),
			zap.Time("occurred_at", e.OccurredAt),
			zap.Any("payload", e.Payload),
		)
		return nil
	}
}

// Accounting counts events per type.
func Accounting() Handler {
	return func(_ context.Context, e Event) error {
		observability.IncrementEvent(e.Type)
		return nil
	}
}

// RegisterDefaults wires the notification and accounting consumers on every category.
func RegisterDefaults(b *Bus, logger *zap.Logger) {
	b.SubscribeAll("notifier", Notifier(logger))
	b.SubscribeAll("accounting", Accounting())
}
