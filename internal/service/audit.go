package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"github.com/zoobzio/clockz"
)

// AuditService writes immutable audit trail entries.
type AuditService struct {
	clock clockz.Clock
}

func NewAuditService(clock clockz.Clock) *AuditService {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &AuditService{clock: clock}
}

// Write stores a single immutable audit record. metadata is encoded as JSON when non-nil.
func (s *AuditService) Write(ctx context.Context, q repository.Queries, entityType, entityID, actor, action, prevState, nextState string, metadata any) error {
	var raw []byte
	if metadata != nil {
		var err error
		if raw, err = json.Marshal(metadata); err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}
	if err := q.InsertAuditLog(ctx, models.AuditEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actorOrSystem(actor),
		Action:     action,
		PrevState:  prevState,
		NextState:  nextState,
		Metadata:   raw,
		CreatedAt:  s.clock.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
