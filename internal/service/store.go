package service

import (
	"context"

	"github.com/ayo6706/payment-orchestrator/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
type QueryStore interface {
	Queries() repository.Queries
	RunInTx(ctx context.Context, fn func(q repository.Queries) error) error
}

// EventPublisher queues domain events for asynchronous consumers.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}
