package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// EscrowConfig carries the hold policy.
type EscrowConfig struct {
	DefaultHoldDays int
	// MaxHoldAmount caps a single hold in micros. Zero means no cap.
	MaxHoldAmount int64
}

// EscrowService owns escrow accounts and the lifecycle of held funds.
type EscrowService struct {
	store  QueryStore
	events EventPublisher
	locks  *AccountLocks
	audit  *AuditService
	clock  clockz.Clock
	cfg    EscrowConfig
}

func NewEscrowService(store QueryStore, events EventPublisher, locks *AccountLocks, clock clockz.Clock, cfg EscrowConfig) *EscrowService {
	if clock == nil {
		clock = clockz.RealClock
	}
	if locks == nil {
		locks = NewAccountLocks()
	}
	if cfg.DefaultHoldDays <= 0 {
		cfg.DefaultHoldDays = domain.DefaultHoldDays
	}
	return &EscrowService{
		store:  store,
		events: events,
		locks:  locks,
		audit:  NewAuditService(clock),
		clock:  clock,
		cfg:    cfg,
	}
}

// HoldRequest places funds from a fan in escrow for a creator.
type HoldRequest struct {
	From        string
	To          string
	Amount      int64
	Currency    string
	Reason      string
	HoldDays    *int
	AutoRelease *bool
}

// EscrowEvent is the payload of funds_* events.
type EscrowEvent struct {
	TransactionID uuid.UUID  `json:"transaction_id"`
	AccountID     uuid.UUID  `json:"account_id"`
	UserID        string     `json:"user_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	ReleaseType   string     `json:"release_type,omitempty"`
	Actor         string     `json:"actor,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	ReleaseDate   *time.Time `json:"release_date,omitempty"`
}

// HoldFunds credits the recipient's held balance and schedules the release date.
func (s *EscrowService) HoldFunds(ctx context.Context, req HoldRequest) (models.EscrowTransaction, error) {
	if strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.To) == "" {
		return models.EscrowTransaction{}, fmt.Errorf("from and to are required: %w", domain.ErrInvalidRequest)
	}
	if req.From == req.To {
		return models.EscrowTransaction{}, fmt.Errorf("cannot hold funds for the payer: %w", domain.ErrInvalidRequest)
	}
	if req.Amount <= 0 || (s.cfg.MaxHoldAmount > 0 && req.Amount > s.cfg.MaxHoldAmount) {
		return models.EscrowTransaction{}, fmt.Errorf("hold amount %d: %w", req.Amount, domain.ErrAmountOutOfRange)
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return models.EscrowTransaction{}, err
	}
	holdDays := s.cfg.DefaultHoldDays
	if req.HoldDays != nil {
		holdDays = *req.HoldDays
	}
	if holdDays < 0 || holdDays > domain.MaxHoldDays {
		return models.EscrowTransaction{}, fmt.Errorf("hold days %d: %w", holdDays, domain.ErrInvalidRequest)
	}
	autoRelease := true
	if req.AutoRelease != nil {
		autoRelease = *req.AutoRelease
	}

	if _, err := s.ensureAccount(ctx, req.From, domain.RoleFan, currency); err != nil {
		return models.EscrowTransaction{}, err
	}
	recipient, err := s.ensureAccount(ctx, req.To, domain.RoleCreator, currency)
	if err != nil {
		return models.EscrowTransaction{}, err
	}

	unlock := s.locks.Lock(recipient.ID.String())
	defer unlock()

	now := s.clock.Now().UTC()
	tx := models.EscrowTransaction{
		ID:          uuid.New(),
		AccountID:   recipient.ID,
		FromUserID:  req.From,
		ToUserID:    req.To,
		Amount:      req.Amount,
		Currency:    currency,
		Type:        domain.EscrowTxTypeHold,
		Status:      domain.EscrowStatusHeld,
		Reason:      req.Reason,
		HoldDays:    holdDays,
		AutoRelease: autoRelease,
		ReleaseDate: now.AddDate(0, 0, holdDays),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.store.RunInTx(ctx, func(q repository.Queries) error {
		acc, err := q.GetEscrowAccountForUpdate(ctx, recipient.ID)
		if err != nil {
			return notFound(err, domain.ErrAccountNotFound)
		}
		if acc.Status != domain.AccountStatusActive {
			return fmt.Errorf("account %s is %s: %w", acc.ID, acc.Status, domain.ErrAccountNotActive)
		}
		if acc.Currency != currency {
			return fmt.Errorf("account %s holds %s, not %s: %w", acc.ID, acc.Currency, currency, domain.ErrInvalidRequest)
		}

		if err := q.InsertEscrowTransaction(ctx, tx); err != nil {
			return fmt.Errorf("insert escrow transaction: %w", err)
		}

		acc.HeldBalance += tx.Amount
		acc.Balance += tx.Amount
		acc.PendingReleases++
		acc.UpdatedAt = now
		if err := saveAccount(ctx, q, acc); err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "escrow_transaction", tx.ID.String(), req.From, "funds_held", "", tx.Status, map[string]any{
			"amount": tx.Amount, "to": req.To, "hold_days": holdDays, "auto_release": autoRelease,
		})
	})
	if err != nil {
		observability.IncrementEscrowOperation("hold", "error")
		return models.EscrowTransaction{}, err
	}
	observability.IncrementEscrowOperation("hold", "ok")

	releaseDate := tx.ReleaseDate
	publish(ctx, s.events, domain.EventFundsHeld, EscrowEvent{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		UserID:        tx.ToUserID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Actor:         req.From,
		Reason:        tx.Reason,
		ReleaseDate:   &releaseDate,
	})
	return tx, nil
}

// ReleaseFunds moves a held transaction's amount from held to available.
// releaseType is automatic or manual; automatic releases never run before the release date.
func (s *EscrowService) ReleaseFunds(ctx context.Context, txID uuid.UUID, releaseType, releasedBy string) (models.EscrowTransaction, error) {
	if releaseType != domain.ReleaseTypeAutomatic && releaseType != domain.ReleaseTypeManual {
		return models.EscrowTransaction{}, fmt.Errorf("release type %q: %w", releaseType, domain.ErrInvalidRequest)
	}
	actor := actorOrSystem(releasedBy)

	var released []models.EscrowRelease
	tx, err := s.mutateTransaction(ctx, txID, actor, "funds_released", func(q repository.Queries, tx *models.EscrowTransaction, acc *models.EscrowAccount) error {
		if tx.Status != domain.EscrowStatusHeld {
			return fmt.Errorf("release transaction %s in status %s: %w", tx.ID, tx.Status, domain.ErrInvalidState)
		}
		if releaseType == domain.ReleaseTypeAutomatic && (!tx.AutoRelease || s.clock.Now().Before(tx.ReleaseDate)) {
			return fmt.Errorf("transaction %s not due for automatic release: %w", tx.ID, domain.ErrInvalidState)
		}
		if acc.Status != domain.AccountStatusActive {
			return fmt.Errorf("account %s is %s: %w", acc.ID, acc.Status, domain.ErrAccountNotActive)
		}
		var err error
		released, err = s.settle(ctx, q, tx, acc, 0, releaseType, actor)
		return err
	})
	if err != nil {
		observability.IncrementEscrowOperation("release", "error")
		return models.EscrowTransaction{}, err
	}
	observability.IncrementEscrowOperation("release", "ok")
	s.publishSettlement(ctx, tx, released)
	return tx, nil
}

// RefundFunds returns a held transaction's amount to the payer. The amount leaves
// the recipient's ledger, so balance and held both drop.
func (s *EscrowService) RefundFunds(ctx context.Context, txID uuid.UUID, reason, refundedBy string) (models.EscrowTransaction, error) {
	actor := actorOrSystem(refundedBy)

	var released []models.EscrowRelease
	tx, err := s.mutateTransaction(ctx, txID, actor, "funds_refunded", func(q repository.Queries, tx *models.EscrowTransaction, acc *models.EscrowAccount) error {
		if tx.Status != domain.EscrowStatusHeld {
			return fmt.Errorf("refund transaction %s in status %s: %w", tx.ID, tx.Status, domain.ErrInvalidState)
		}
		var err error
		released, err = s.settle(ctx, q, tx, acc, tx.Amount, domain.ReleaseTypeRefund, actor)
		return err
	})
	if err != nil {
		observability.IncrementEscrowOperation("refund", "error")
		return models.EscrowTransaction{}, err
	}
	observability.IncrementEscrowOperation("refund", "ok")
	zap.L().Info("escrow refunded", zap.String("transaction_id", tx.ID.String()), zap.String("reason", reason), zap.String("actor", actor))
	s.publishSettlement(ctx, tx, released)
	return tx, nil
}

// ReleaseDue releases up to limit transactions whose release date has passed.
// A failed release stays held and is picked up again on the next call.
func (s *EscrowService) ReleaseDue(ctx context.Context, limit int32) (int, error) {
	ids, err := s.store.Queries().ListDueReleases(ctx, s.clock.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("list due releases: %w", err)
	}

	released := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		if _, err := s.ReleaseFunds(ctx, id, domain.ReleaseTypeAutomatic, domain.SystemActor); err != nil {
			zap.L().Warn("auto-release failed", zap.String("transaction_id", id.String()), zap.Error(err))
			continue
		}
		released++
	}
	return released, nil
}

func (s *EscrowService) GetTransaction(ctx context.Context, id uuid.UUID) (models.EscrowTransaction, error) {
	tx, err := s.store.Queries().GetEscrowTransaction(ctx, id)
	if err != nil {
		return models.EscrowTransaction{}, notFound(err, domain.ErrTransactionNotFound)
	}
	return tx, nil
}

// Releases returns the release records written for a transaction.
func (s *EscrowService) Releases(ctx context.Context, txID uuid.UUID) ([]models.EscrowRelease, error) {
	if _, err := s.GetTransaction(ctx, txID); err != nil {
		return nil, err
	}
	return s.store.Queries().ListEscrowReleases(ctx, txID)
}

// GetBalance returns every escrow account the user owns.
func (s *EscrowService) GetBalance(ctx context.Context, userID string) ([]models.EscrowAccount, error) {
	accounts, err := s.store.Queries().ListEscrowAccountsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list escrow accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrAccountNotFound)
	}
	return accounts, nil
}

// Transaction list views.
const (
	ViewPending = "pending"
	ViewHistory = "history"
)

// ListTransactions returns the user's escrow transactions, newest first.
func (s *EscrowService) ListTransactions(ctx context.Context, userID, view string, limit int) ([]models.EscrowTransaction, error) {
	var statuses []string
	switch view {
	case "", ViewPending:
		statuses = repository.PendingEscrowStatuses
	case ViewHistory:
		statuses = repository.HistoryEscrowStatuses
	default:
		return nil, fmt.Errorf("view %q: %w", view, domain.ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.Queries().ListEscrowTransactionsByUser(ctx, userID, statuses, int32(limit))
}

// FreezeAccount stops holds and releases on an account. Refunds still apply.
func (s *EscrowService) FreezeAccount(ctx context.Context, accountID uuid.UUID, actor string) (models.EscrowAccount, error) {
	return s.setAccountStatus(ctx, accountID, domain.AccountStatusActive, domain.AccountStatusFrozen, actor)
}

func (s *EscrowService) UnfreezeAccount(ctx context.Context, accountID uuid.UUID, actor string) (models.EscrowAccount, error) {
	return s.setAccountStatus(ctx, accountID, domain.AccountStatusFrozen, domain.AccountStatusActive, actor)
}

func (s *EscrowService) setAccountStatus(ctx context.Context, accountID uuid.UUID, from, to, actor string) (models.EscrowAccount, error) {
	unlock := s.locks.Lock(accountID.String())
	defer unlock()

	var out models.EscrowAccount
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		acc, err := q.GetEscrowAccountForUpdate(ctx, accountID)
		if err != nil {
			return notFound(err, domain.ErrAccountNotFound)
		}
		if acc.Status != from {
			return fmt.Errorf("account %s is %s, want %s: %w", acc.ID, acc.Status, from, domain.ErrInvalidState)
		}
		acc.Status = to
		acc.UpdatedAt = s.clock.Now().UTC()
		if err := saveAccount(ctx, q, acc); err != nil {
			return err
		}
		out = acc
		return s.audit.Write(ctx, q, "escrow_account", acc.ID.String(), actor, "status_changed", from, to, nil)
	})
	return out, err
}

// ensureAccount returns the (user, role) account, creating it on first use.
func (s *EscrowService) ensureAccount(ctx context.Context, userID, role, currency string) (models.EscrowAccount, error) {
	unlock := s.locks.Lock("owner:" + role + ":" + userID)
	defer unlock()

	acc, err := s.store.Queries().GetEscrowAccountByOwner(ctx, userID, role)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return models.EscrowAccount{}, fmt.Errorf("get escrow account: %w", err)
	}

	now := s.clock.Now().UTC()
	acc = models.EscrowAccount{
		ID:        uuid.New(),
		UserID:    userID,
		Role:      role,
		Currency:  currency,
		Status:    domain.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.RunInTx(ctx, func(q repository.Queries) error {
		if err := q.InsertEscrowAccount(ctx, acc); err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "escrow_account", acc.ID.String(), domain.SystemActor, "created", "", acc.Status, map[string]string{"role": role})
	})
	if errors.Is(err, repository.ErrConflict) {
		// another replica created it first
		return s.store.Queries().GetEscrowAccountByOwner(ctx, userID, role)
	}
	if err != nil {
		return models.EscrowAccount{}, fmt.Errorf("create escrow account: %w", err)
	}

	publish(ctx, s.events, domain.EventEscrowAccountCreated, acc)
	return acc, nil
}

type txMutation func(q repository.Queries, tx *models.EscrowTransaction, acc *models.EscrowAccount) error

// mutateTransaction runs fn against a locked transaction and its account, validates
// the status transition and the ledger invariant, then persists both rows.
func (s *EscrowService) mutateTransaction(ctx context.Context, txID uuid.UUID, actor, action string, fn txMutation) (models.EscrowTransaction, error) {
	current, err := s.store.Queries().GetEscrowTransaction(ctx, txID)
	if err != nil {
		return models.EscrowTransaction{}, notFound(err, domain.ErrTransactionNotFound)
	}

	unlock := s.locks.Lock(current.AccountID.String())
	defer unlock()

	var out models.EscrowTransaction
	err = s.store.RunInTx(ctx, func(q repository.Queries) error {
		tx, err := q.GetEscrowTransactionForUpdate(ctx, txID)
		if err != nil {
			return notFound(err, domain.ErrTransactionNotFound)
		}
		acc, err := q.GetEscrowAccountForUpdate(ctx, tx.AccountID)
		if err != nil {
			return notFound(err, domain.ErrAccountNotFound)
		}

		prevStatus := tx.Status
		if err := fn(q, &tx, &acc); err != nil {
			return err
		}
		if err := checkTransition(escrowTransitions, "escrow transaction", prevStatus, tx.Status); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		tx.UpdatedAt = now
		acc.UpdatedAt = now
		if err := saveAccount(ctx, q, acc); err != nil {
			return err
		}
		rows, err := q.UpdateEscrowTransaction(ctx, tx)
		if err != nil {
			return fmt.Errorf("update escrow transaction: %w", err)
		}
		if err := requireExactlyOne(rows, "update escrow transaction"); err != nil {
			return err
		}
		out = tx
		return s.audit.Write(ctx, q, "escrow_transaction", tx.ID.String(), actor, action, prevStatus, tx.Status, map[string]any{
			"amount": tx.Amount, "refunded_amount": tx.RefundedAmount,
		})
	})
	return out, err
}

// settle closes out a held or disputed transaction. refund of the amount leaves the
// ledger; the rest becomes available to the recipient. One release record is written
// per non-zero part.
func (s *EscrowService) settle(ctx context.Context, q repository.Queries, tx *models.EscrowTransaction, acc *models.EscrowAccount, refund int64, releaseType, actor string) ([]models.EscrowRelease, error) {
	if refund < 0 || refund > tx.Amount {
		return nil, fmt.Errorf("refund %d of %d: %w", refund, tx.Amount, domain.ErrAmountOutOfRange)
	}
	release := tx.Amount - refund
	now := s.clock.Now().UTC()

	acc.HeldBalance -= tx.Amount
	acc.Balance -= refund
	acc.Available += release
	acc.PendingReleases--

	tx.RefundedAmount = refund
	tx.ReleasedAt = &now
	tx.Status = domain.EscrowStatusReleased
	if release == 0 {
		tx.Status = domain.EscrowStatusRefunded
	}

	var records []models.EscrowRelease
	if refund > 0 {
		records = append(records, models.EscrowRelease{
			ID: uuid.New(), TransactionID: tx.ID, AccountID: acc.ID,
			Amount: refund, Type: domain.ReleaseTypeRefund, Actor: actor, CreatedAt: now,
		})
	}
	if release > 0 {
		records = append(records, models.EscrowRelease{
			ID: uuid.New(), TransactionID: tx.ID, AccountID: acc.ID,
			Amount: release, Type: releaseType, Actor: actor, CreatedAt: now,
		})
	}
	for _, r := range records {
		if err := q.InsertEscrowRelease(ctx, r); err != nil {
			return nil, fmt.Errorf("insert escrow release: %w", err)
		}
	}
	return records, nil
}

// saveAccount checks the ledger invariant before persisting the account.
func saveAccount(ctx context.Context, q repository.Queries, acc models.EscrowAccount) error {
	if err := checkLedger(acc); err != nil {
		return err
	}
	rows, err := q.UpdateEscrowAccount(ctx, acc)
	if err != nil {
		return fmt.Errorf("update escrow account: %w", err)
	}
	return requireExactlyOne(rows, "update escrow account")
}

func (s *EscrowService) publishSettlement(ctx context.Context, tx models.EscrowTransaction, records []models.EscrowRelease) {
	for _, r := range records {
		eventType := domain.EventFundsReleased
		if r.Type == domain.ReleaseTypeRefund {
			eventType = domain.EventFundsRefunded
		}
		publish(ctx, s.events, eventType, EscrowEvent{
			TransactionID: tx.ID,
			AccountID:     tx.AccountID,
			UserID:        tx.ToUserID,
			Amount:        r.Amount,
			Currency:      tx.Currency,
			ReleaseType:   r.Type,
			Actor:         r.Actor,
		})
	}
}

func checkLedger(acc models.EscrowAccount) error {
	if acc.Balanced() {
		return nil
	}
	observability.IncrementLedgerInvariantViolation()
	zap.L().Error("escrow ledger invariant violated",
		zap.String("account_id", acc.ID.String()),
		zap.Int64("balance", acc.Balance),
		zap.Int64("held", acc.HeldBalance),
		zap.Int64("available", acc.Available),
		zap.Int("pending_releases", acc.PendingReleases),
	)
	return fmt.Errorf("account %s: %w", acc.ID, domain.ErrLedgerInvariant)
}
