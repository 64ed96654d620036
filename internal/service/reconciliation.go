package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"go.uber.org/zap"
)

// ReconciliationService verifies escrow ledger integrity invariants.
type ReconciliationService struct {
	store QueryStore
}

func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run checks every escrow account against its open transactions: held must equal
// the sum of held and disputed amounts, pending releases their count, and balance
// must equal held plus available. Mismatches are logged and returned, not repaired.
func (s *ReconciliationService) Run(ctx context.Context) ([]repository.EscrowImbalance, error) {
	imbalances, err := s.store.Queries().ListEscrowImbalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("run escrow reconciliation query: %w", err)
	}
	observability.SetEscrowImbalances(len(imbalances))

	if len(imbalances) == 0 {
		zap.L().Info("escrow ledger balanced")
		return nil, nil
	}
	for _, im := range imbalances {
		zap.L().Error("CRITICAL: escrow account imbalance detected",
			zap.String("account_id", im.AccountID.String()),
			zap.Int64("balance", im.Balance),
			zap.Int64("held", im.HeldBalance),
			zap.Int64("available", im.Available),
			zap.Int64("open_amount", im.OpenAmount),
			zap.Int("pending_releases", im.PendingReleases),
			zap.Int("open_count", im.OpenCount),
		)
	}
	return imbalances, nil
}
