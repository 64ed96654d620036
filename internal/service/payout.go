package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/gateway"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

const (
	// a claim older than this is considered abandoned and executed again
	stalePayoutClaimWindow = 2 * time.Minute
	payoutExecutionTimeout = 30 * time.Second
)

var errPayoutAlreadyFinal = errors.New("payout already finalized")

// PayoutMethodCatalog looks up enabled payout methods.
type PayoutMethodCatalog interface {
	Get(id string) (models.PayoutMethod, error)
	List() []models.PayoutMethod
}

// PayoutService moves available escrow balance out to creators.
type PayoutService struct {
	store    QueryStore
	methods  PayoutMethodCatalog
	executor gateway.PayoutExecutor
	locks    *AccountLocks
	events   EventPublisher
	audit    *AuditService
	clock    clockz.Clock
}

func NewPayoutService(store QueryStore, methods PayoutMethodCatalog, executor gateway.PayoutExecutor, locks *AccountLocks, events EventPublisher, clock clockz.Clock) *PayoutService {
	if clock == nil {
		clock = clockz.RealClock
	}
	if locks == nil {
		locks = NewAccountLocks()
	}
	return &PayoutService{
		store:    store,
		methods:  methods,
		executor: executor,
		locks:    locks,
		events:   events,
		audit:    NewAuditService(clock),
		clock:    clock,
	}
}

// PayoutInput holds the parameters for creating a payout.
type PayoutInput struct {
	CreatorID   string
	Amount      int64
	MethodID    string
	Destination string
	ReferenceID string
}

// Payout debits the creator's available balance and queues the payout for the
// background worker. Limits are checked before anything is written.
func (s *PayoutService) Payout(ctx context.Context, in PayoutInput) (models.PayoutRequest, error) {
	in.CreatorID = strings.TrimSpace(in.CreatorID)
	in.Destination = strings.TrimSpace(in.Destination)
	in.ReferenceID = strings.TrimSpace(in.ReferenceID)
	if in.CreatorID == "" || in.Destination == "" {
		return models.PayoutRequest{}, fmt.Errorf("creator_id and destination are required: %w", domain.ErrInvalidRequest)
	}

	method, err := s.methods.Get(in.MethodID)
	if err != nil {
		return models.PayoutRequest{}, err
	}
	if in.Amount <= 0 || in.Amount < method.Min || (method.Max > 0 && in.Amount > method.Max) {
		return models.PayoutRequest{}, fmt.Errorf("payout %d outside %s limits [%d, %d]: %w", in.Amount, method.ID, method.Min, method.Max, domain.ErrAmountOutOfRange)
	}
	fee := domain.Fee(in.Amount, method.FeePercentage, method.FixedFee)
	if fee >= in.Amount {
		return models.PayoutRequest{}, fmt.Errorf("payout %d does not cover fee %d: %w", in.Amount, fee, domain.ErrAmountOutOfRange)
	}

	queries := s.store.Queries()
	if in.ReferenceID != "" {
		existing, err := queries.GetPayoutByReference(ctx, in.CreatorID, in.ReferenceID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return models.PayoutRequest{}, fmt.Errorf("check payout idempotency: %w", err)
		}
	}

	account, err := queries.GetEscrowAccountByOwner(ctx, in.CreatorID, domain.RoleCreator)
	if err != nil {
		return models.PayoutRequest{}, notFound(err, domain.ErrAccountNotFound)
	}

	unlock := s.locks.Lock(account.ID.String())
	defer unlock()

	now := s.clock.Now().UTC()
	payout := models.PayoutRequest{
		ID:          uuid.New(),
		CreatorID:   in.CreatorID,
		AccountID:   account.ID,
		Amount:      in.Amount,
		Currency:    account.Currency,
		MethodID:    method.ID,
		Fee:         fee,
		NetAmount:   domain.Net(in.Amount, fee),
		Status:      domain.PayoutStatusProcessing,
		Destination: in.Destination,
		ReferenceID: in.ReferenceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.store.RunInTx(ctx, func(q repository.Queries) error {
		acc, err := q.GetEscrowAccountForUpdate(ctx, account.ID)
		if err != nil {
			return notFound(err, domain.ErrAccountNotFound)
		}
		if acc.Status != domain.AccountStatusActive {
			return fmt.Errorf("account %s is %s: %w", acc.ID, acc.Status, domain.ErrAccountNotActive)
		}
		if method.Currency != "" && acc.Currency != method.Currency {
			return fmt.Errorf("account %s holds %s, %s pays out %s: %w", acc.ID, acc.Currency, method.ID, method.Currency, domain.ErrInvalidRequest)
		}
		if acc.Available < in.Amount {
			return fmt.Errorf("available %d, requested %d: %w", acc.Available, in.Amount, domain.ErrInsufficientFunds)
		}

		acc.Available -= in.Amount
		acc.Balance -= in.Amount
		acc.UpdatedAt = now
		if err := saveAccount(ctx, q, acc); err != nil {
			return err
		}
		if err := q.InsertPayout(ctx, payout); err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "payout", payout.ID.String(), in.CreatorID, "created", "", payout.Status, map[string]any{
			"amount": payout.Amount, "method": payout.MethodID, "fee": payout.Fee,
		})
	})
	if errors.Is(err, repository.ErrConflict) && in.ReferenceID != "" {
		// a concurrent request from the same creator with the same reference won
		return s.store.Queries().GetPayoutByReference(ctx, in.CreatorID, in.ReferenceID)
	}
	if err != nil {
		return models.PayoutRequest{}, err
	}

	observability.IncrementPayout(payout.MethodID, payout.Status)
	zap.L().Info("payout queued",
		zap.String("payout_id", payout.ID.String()),
		zap.String("creator_id", payout.CreatorID),
		zap.String("method", payout.MethodID),
		zap.Int64("amount", payout.Amount),
	)
	return payout, nil
}

// ProcessPayouts claims a batch of processing payouts and executes them. A payout
// whose execution was interrupted keeps its claim and is retried once the claim
// goes stale; the payout id is the downstream reference, so a retry cannot pay twice.
func (s *PayoutService) ProcessPayouts(ctx context.Context, batchSize int32) (int, error) {
	now := s.clock.Now().UTC()
	claimed, err := s.store.Queries().ClaimProcessingPayouts(ctx, now, now.Add(-stalePayoutClaimWindow), batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim processing payouts: %w", err)
	}

	finalized := 0
	for _, payout := range claimed {
		if err := ctx.Err(); err != nil {
			return finalized, err
		}

		execCtx, cancel := s.clock.WithTimeout(ctx, payoutExecutionTimeout)
		res, err := s.executor.Execute(execCtx, gateway.PayoutInstruction{
			Reference:   payout.ID.String(),
			MethodID:    payout.MethodID,
			Amount:      payout.NetAmount,
			Currency:    payout.Currency,
			Destination: payout.Destination,
		})
		cancel()

		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			zap.L().Warn("payout execution interrupted; left for retry",
				zap.String("payout_id", payout.ID.String()), zap.Error(err))
			if ctx.Err() != nil {
				return finalized, ctx.Err()
			}
			continue
		case err != nil:
			err = s.fail(ctx, payout, err.Error())
		default:
			err = s.complete(ctx, payout, res.PayoutID)
		}
		if errors.Is(err, errPayoutAlreadyFinal) {
			continue
		}
		if err != nil {
			zap.L().Error("payout finalization failed", zap.String("payout_id", payout.ID.String()), zap.Error(err))
			continue
		}
		finalized++
	}
	return finalized, nil
}

func (s *PayoutService) complete(ctx context.Context, payout models.PayoutRequest, externalID string) error {
	now := s.clock.Now().UTC()
	payout.Status = domain.PayoutStatusCompleted
	payout.ExternalPayoutID = externalID
	payout.UpdatedAt = now
	payout.CompletedAt = &now

	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		rows, err := q.FinalizePayout(ctx, payout)
		if err != nil {
			return fmt.Errorf("finalize payout: %w", err)
		}
		if rows == 0 {
			return errPayoutAlreadyFinal
		}
		return s.audit.Write(ctx, q, "payout", payout.ID.String(), domain.SystemActor, "completed", domain.PayoutStatusProcessing, payout.Status, map[string]string{
			"external_payout_id": externalID,
		})
	})
	if err != nil {
		return err
	}

	observability.IncrementPayout(payout.MethodID, payout.Status)
	publish(ctx, s.events, domain.EventPayoutCompleted, payout)
	return nil
}

// fail marks the payout failed and credits the amount back to available.
func (s *PayoutService) fail(ctx context.Context, payout models.PayoutRequest, reason string) error {
	unlock := s.locks.Lock(payout.AccountID.String())
	defer unlock()

	now := s.clock.Now().UTC()
	payout.Status = domain.PayoutStatusFailed
	payout.FailureReason = reason
	payout.UpdatedAt = now

	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		rows, err := q.FinalizePayout(ctx, payout)
		if err != nil {
			return fmt.Errorf("finalize payout: %w", err)
		}
		if rows == 0 {
			return errPayoutAlreadyFinal
		}

		acc, err := q.GetEscrowAccountForUpdate(ctx, payout.AccountID)
		if err != nil {
			return notFound(err, domain.ErrAccountNotFound)
		}
		acc.Available += payout.Amount
		acc.Balance += payout.Amount
		acc.UpdatedAt = now
		if err := saveAccount(ctx, q, acc); err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "payout", payout.ID.String(), domain.SystemActor, "failed", domain.PayoutStatusProcessing, payout.Status, map[string]string{
			"reason": reason,
		})
	})
	if err != nil {
		return err
	}

	observability.IncrementPayout(payout.MethodID, payout.Status)
	zap.L().Warn("payout marked failed", zap.String("payout_id", payout.ID.String()), zap.String("reason", reason))
	publish(ctx, s.events, domain.EventPayoutFailed, payout)
	return nil
}

func (s *PayoutService) GetPayout(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	p, err := s.store.Queries().GetPayout(ctx, id)
	if err != nil {
		return models.PayoutRequest{}, notFound(err, domain.ErrPayoutNotFound)
	}
	return p, nil
}

func (s *PayoutService) ListPayoutMethods() []models.PayoutMethod {
	return s.methods.List()
}
