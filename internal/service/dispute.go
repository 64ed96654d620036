package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateDispute freezes a held transaction until the dispute is resolved.
func (s *EscrowService) CreateDispute(ctx context.Context, txID uuid.UUID, initiatedBy, reason string, evidence []string) (models.EscrowDispute, error) {
	if strings.TrimSpace(initiatedBy) == "" || strings.TrimSpace(reason) == "" {
		return models.EscrowDispute{}, fmt.Errorf("initiator and reason are required: %w", domain.ErrInvalidRequest)
	}

	var dispute models.EscrowDispute
	_, err := s.mutateTransaction(ctx, txID, initiatedBy, "dispute_created", func(q repository.Queries, tx *models.EscrowTransaction, _ *models.EscrowAccount) error {
		if tx.Status != domain.EscrowStatusHeld {
			return fmt.Errorf("dispute transaction %s in status %s: %w", tx.ID, tx.Status, domain.ErrInvalidState)
		}
		now := s.clock.Now().UTC()
		dispute = models.EscrowDispute{
			ID:            uuid.New(),
			TransactionID: tx.ID,
			InitiatedBy:   initiatedBy,
			Reason:        reason,
			Evidence:      append([]string{}, evidence...),
			Status:        domain.DisputeStatusOpen,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := q.InsertDispute(ctx, dispute); err != nil {
			return fmt.Errorf("insert dispute: %w", err)
		}
		tx.Status = domain.EscrowStatusDisputed
		tx.DisputeID = &dispute.ID
		return nil
	})
	if err != nil {
		observability.IncrementEscrowOperation("dispute", "error")
		return models.EscrowDispute{}, err
	}
	observability.IncrementEscrowOperation("dispute", "ok")

	publish(ctx, s.events, domain.EventDisputeCreated, dispute)
	return dispute, nil
}

func (s *EscrowService) GetDispute(ctx context.Context, id uuid.UUID) (models.EscrowDispute, error) {
	d, err := s.store.Queries().GetDispute(ctx, id)
	if err != nil {
		return models.EscrowDispute{}, notFound(err, domain.ErrDisputeNotFound)
	}
	return d, nil
}

// AddEvidence appends an evidence reference to an unresolved dispute.
func (s *EscrowService) AddEvidence(ctx context.Context, disputeID uuid.UUID, item, actor string) (models.EscrowDispute, error) {
	if strings.TrimSpace(item) == "" {
		return models.EscrowDispute{}, fmt.Errorf("evidence is empty: %w", domain.ErrInvalidRequest)
	}
	return s.mutateDispute(ctx, disputeID, actor, "evidence_added", func(d *models.EscrowDispute) error {
		if d.Status == domain.DisputeStatusResolved {
			return fmt.Errorf("dispute %s is resolved: %w", d.ID, domain.ErrInvalidState)
		}
		d.Evidence = append(d.Evidence, item)
		return nil
	})
}

// UpdateDisputeStatus moves an unresolved dispute between investigating and escalated.
// Resolution goes through ResolveDispute.
func (s *EscrowService) UpdateDisputeStatus(ctx context.Context, disputeID uuid.UUID, status, actor string) (models.EscrowDispute, error) {
	if status != domain.DisputeStatusInvestigating && status != domain.DisputeStatusEscalated {
		return models.EscrowDispute{}, fmt.Errorf("dispute status %q: %w", status, domain.ErrInvalidRequest)
	}
	return s.mutateDispute(ctx, disputeID, actor, "status_changed", func(d *models.EscrowDispute) error {
		if err := checkTransition(disputeTransitions, "dispute", d.Status, status); err != nil {
			return err
		}
		d.Status = status
		return nil
	})
}

func (s *EscrowService) mutateDispute(ctx context.Context, disputeID uuid.UUID, actor, action string, fn func(d *models.EscrowDispute) error) (models.EscrowDispute, error) {
	var out models.EscrowDispute
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		d, err := q.GetDisputeForUpdate(ctx, disputeID)
		if err != nil {
			return notFound(err, domain.ErrDisputeNotFound)
		}
		prev := d.Status
		if err := fn(&d); err != nil {
			return err
		}
		d.UpdatedAt = s.clock.Now().UTC()
		rows, err := q.UpdateDispute(ctx, d)
		if err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}
		if err := requireExactlyOne(rows, "update dispute"); err != nil {
			return err
		}
		out = d
		return s.audit.Write(ctx, q, "escrow_dispute", d.ID.String(), actor, action, prev, d.Status, nil)
	})
	return out, err
}

// ResolveDispute settles a disputed transaction exactly once.
//
// refund returns the whole amount to the payer and release pays the whole amount
// to the recipient. partial_refund returns amount to the payer and releases the
// remainder, so 0 < amount < transaction amount.
func (s *EscrowService) ResolveDispute(ctx context.Context, disputeID uuid.UUID, resolution string, amount int64, resolvedBy string) (models.EscrowDispute, error) {
	if !slices.Contains([]string{domain.ResolutionRefund, domain.ResolutionRelease, domain.ResolutionPartialRefund}, resolution) {
		return models.EscrowDispute{}, fmt.Errorf("resolution %q: %w", resolution, domain.ErrInvalidRequest)
	}
	actor := actorOrSystem(resolvedBy)

	current, err := s.GetDispute(ctx, disputeID)
	if err != nil {
		return models.EscrowDispute{}, err
	}
	if current.Status == domain.DisputeStatusResolved {
		return models.EscrowDispute{}, fmt.Errorf("dispute %s already resolved: %w", disputeID, domain.ErrInvalidState)
	}

	var (
		dispute  models.EscrowDispute
		released []models.EscrowRelease
	)
	tx, err := s.mutateTransaction(ctx, current.TransactionID, actor, "dispute_resolved", func(q repository.Queries, tx *models.EscrowTransaction, acc *models.EscrowAccount) error {
		d, err := q.GetDisputeForUpdate(ctx, disputeID)
		if err != nil {
			return notFound(err, domain.ErrDisputeNotFound)
		}
		if err := checkTransition(disputeTransitions, "dispute", d.Status, domain.DisputeStatusResolved); err != nil {
			return err
		}
		if tx.Status != domain.EscrowStatusDisputed {
			return fmt.Errorf("resolve transaction %s in status %s: %w", tx.ID, tx.Status, domain.ErrInvalidState)
		}

		var refund int64
		switch resolution {
		case domain.ResolutionRefund:
			refund = tx.Amount
		case domain.ResolutionRelease:
			refund = 0
		case domain.ResolutionPartialRefund:
			if amount <= 0 || amount >= tx.Amount {
				return fmt.Errorf("partial refund %d of %d: %w", amount, tx.Amount, domain.ErrAmountOutOfRange)
			}
			refund = amount
		}
		if refund < tx.Amount && acc.Status != domain.AccountStatusActive {
			return fmt.Errorf("account %s is %s: %w", acc.ID, acc.Status, domain.ErrAccountNotActive)
		}

		released, err = s.settle(ctx, q, tx, acc, refund, domain.ReleaseTypeDisputeResolution, actor)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		d.Status = domain.DisputeStatusResolved
		d.Resolution = resolution
		d.ResolutionAmount = refund
		d.ResolvedBy = actor
		d.ResolvedAt = &now
		d.UpdatedAt = now
		rows, err := q.UpdateDispute(ctx, d)
		if err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}
		if err := requireExactlyOne(rows, "update dispute"); err != nil {
			return err
		}
		dispute = d
		return nil
	})
	if err != nil {
		observability.IncrementEscrowOperation("resolve", "error")
		return models.EscrowDispute{}, err
	}
	observability.IncrementEscrowOperation("resolve", "ok")
	zap.L().Info("dispute resolved",
		zap.String("dispute_id", dispute.ID.String()),
		zap.String("transaction_id", tx.ID.String()),
		zap.String("resolution", resolution),
		zap.Int64("refunded", tx.RefundedAmount),
	)

	s.publishSettlement(ctx, tx, released)
	publish(ctx, s.events, domain.EventDisputeResolved, dispute)
	return dispute, nil
}
