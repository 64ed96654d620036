package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"go.uber.org/zap"
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

// notFound translates a repository miss into the domain error for the entity.
func notFound(err, target error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %w", target, err)
	}
	return err
}

func actorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return domain.SystemActor
	}
	return actor
}

func normalizeCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if len(c) != 3 {
		return "", fmt.Errorf("currency %q: %w", c, domain.ErrInvalidRequest)
	}
	return c, nil
}

// publish hands an event to the bus. A full queue is logged, never returned:
// the state change it describes is already committed.
func publish(ctx context.Context, p EventPublisher, eventType string, payload any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, eventType, payload); err != nil {
		zap.L().Warn("event not published", zap.String("event_type", eventType), zap.Error(err))
	}
}
