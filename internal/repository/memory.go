package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/google/uuid"
)

// MemoryStore is a process-local Store. Each RunInTx call holds the store lock
// for its whole duration and rolls every write back if fn fails.
type MemoryStore struct {
	mu           sync.Mutex
	payments     map[string]models.PaymentTransaction
	payouts      map[uuid.UUID]models.PayoutRequest
	accounts     map[uuid.UUID]models.EscrowAccount
	transactions map[uuid.UUID]models.EscrowTransaction
	disputes     map[uuid.UUID]models.EscrowDispute
	releases     []models.EscrowRelease
	audit        []models.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:     make(map[string]models.PaymentTransaction),
		payouts:      make(map[uuid.UUID]models.PayoutRequest),
		accounts:     make(map[uuid.UUID]models.EscrowAccount),
		transactions: make(map[uuid.UUID]models.EscrowTransaction),
		disputes:     make(map[uuid.UUID]models.EscrowDispute),
	}
}

func (s *MemoryStore) Queries() Queries {
	return &memQueries{s: s}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(q Queries) error) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(&memQueries{s: s, tx: tx}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// AuditLog returns a copy of the audit entries written so far.
func (s *MemoryStore) AuditLog() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audit)
}

type memTx struct {
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

type memQueries struct {
	s  *MemoryStore
	tx *memTx
}

// lock is a no-op inside RunInTx, which already holds the store lock.
func (q *memQueries) lock() func() {
	if q.tx != nil {
		return func() {}
	}
	q.s.mu.Lock()
	return q.s.mu.Unlock
}

func remember[K comparable, V any](q *memQueries, m map[K]V, key K) {
	if q.tx == nil {
		return
	}
	prev, existed := m[key]
	q.tx.undo = append(q.tx.undo, func() {
		if existed {
			m[key] = prev
			return
		}
		delete(m, key)
	})
}

func (q *memQueries) InsertPayment(_ context.Context, p models.PaymentTransaction) error {
	defer q.lock()()
	if _, ok := q.s.payments[p.ID]; ok {
		return fmt.Errorf("insert payment: %w", ErrConflict)
	}
	remember(q, q.s.payments, p.ID)
	q.s.payments[p.ID] = p
	return nil
}

func (q *memQueries) GetPayment(_ context.Context, id string) (models.PaymentTransaction, error) {
	defer q.lock()()
	p, ok := q.s.payments[id]
	if !ok {
		return models.PaymentTransaction{}, fmt.Errorf("get payment: %w", ErrNotFound)
	}
	return p, nil
}

func (q *memQueries) FinalizePayment(_ context.Context, p models.PaymentTransaction) (int64, error) {
	defer q.lock()()
	current, ok := q.s.payments[p.ID]
	if !ok || current.Status != "processing" {
		return 0, nil
	}
	remember(q, q.s.payments, p.ID)
	current.Status = p.Status
	current.Fees = p.Fees
	current.NetAmount = p.NetAmount
	current.GatewayTransactionID = p.GatewayTransactionID
	current.Error = p.Error
	current.UpdatedAt = p.UpdatedAt
	current.CompletedAt = p.CompletedAt
	q.s.payments[p.ID] = current
	return 1, nil
}

func (q *memQueries) ListStalePayments(_ context.Context, before time.Time, limit int32) ([]models.PaymentTransaction, error) {
	defer q.lock()()
	var out []models.PaymentTransaction
	for _, p := range q.s.payments {
		if p.Status == "processing" && p.UpdatedAt.Before(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

func (q *memQueries) MarkPaymentChargedBack(_ context.Context, id string, at time.Time) (int64, error) {
	defer q.lock()()
	current, ok := q.s.payments[id]
	if !ok || current.Status != "completed" || current.ChargedBackAt != nil {
		return 0, nil
	}
	remember(q, q.s.payments, id)
	current.ChargedBackAt = &at
	current.UpdatedAt = at
	q.s.payments[id] = current
	return 1, nil
}

func (q *memQueries) InsertPayout(_ context.Context, p models.PayoutRequest) error {
	defer q.lock()()
	if _, ok := q.s.payouts[p.ID]; ok {
		return fmt.Errorf("insert payout: %w", ErrConflict)
	}
	if p.ReferenceID != "" {
		for _, existing := range q.s.payouts {
			if existing.CreatorID == p.CreatorID && existing.ReferenceID == p.ReferenceID {
				return fmt.Errorf("insert payout: %w", ErrConflict)
			}
		}
	}
	remember(q, q.s.payouts, p.ID)
	q.s.payouts[p.ID] = p
	return nil
}

func (q *memQueries) GetPayout(_ context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	defer q.lock()()
	p, ok := q.s.payouts[id]
	if !ok {
		return models.PayoutRequest{}, fmt.Errorf("get payout: %w", ErrNotFound)
	}
	return p, nil
}

func (q *memQueries) GetPayoutByReference(_ context.Context, creatorID, referenceID string) (models.PayoutRequest, error) {
	defer q.lock()()
	for _, p := range q.s.payouts {
		if referenceID != "" && p.CreatorID == creatorID && p.ReferenceID == referenceID {
			return p, nil
		}
	}
	return models.PayoutRequest{}, fmt.Errorf("get payout by reference: %w", ErrNotFound)
}

func (q *memQueries) ClaimProcessingPayouts(_ context.Context, now, staleBefore time.Time, limit int32) ([]models.PayoutRequest, error) {
	defer q.lock()()
	var out []models.PayoutRequest
	for _, p := range q.s.payouts {
		if p.Status != "processing" {
			continue
		}
		if p.ClaimedAt != nil && !p.ClaimedAt.Before(staleBefore) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	out = truncate(out, limit)
	for i := range out {
		claimed := now
		out[i].ClaimedAt = &claimed
		remember(q, q.s.payouts, out[i].ID)
		q.s.payouts[out[i].ID] = out[i]
	}
	return out, nil
}

func (q *memQueries) FinalizePayout(_ context.Context, p models.PayoutRequest) (int64, error) {
	defer q.lock()()
	current, ok := q.s.payouts[p.ID]
	if !ok || current.Status != "processing" {
		return 0, nil
	}
	remember(q, q.s.payouts, p.ID)
	current.Status = p.Status
	current.ExternalPayoutID = p.ExternalPayoutID
	current.FailureReason = p.FailureReason
	current.UpdatedAt = p.UpdatedAt
	current.CompletedAt = p.CompletedAt
	q.s.payouts[p.ID] = current
	return 1, nil
}

func (q *memQueries) InsertEscrowAccount(_ context.Context, a models.EscrowAccount) error {
	defer q.lock()()
	if _, ok := q.s.accounts[a.ID]; ok {
		return fmt.Errorf("insert escrow account: %w", ErrConflict)
	}
	for _, existing := range q.s.accounts {
		if existing.UserID == a.UserID && existing.Role == a.Role {
			return fmt.Errorf("insert escrow account: %w", ErrConflict)
		}
	}
	remember(q, q.s.accounts, a.ID)
	q.s.accounts[a.ID] = a
	return nil
}

func (q *memQueries) GetEscrowAccount(_ context.Context, id uuid.UUID) (models.EscrowAccount, error) {
	defer q.lock()()
	a, ok := q.s.accounts[id]
	if !ok {
		return models.EscrowAccount{}, fmt.Errorf("get escrow account: %w", ErrNotFound)
	}
	return a, nil
}

func (q *memQueries) GetEscrowAccountForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowAccount, error) {
	return q.GetEscrowAccount(ctx, id)
}

func (q *memQueries) GetEscrowAccountByOwner(_ context.Context, userID, role string) (models.EscrowAccount, error) {
	defer q.lock()()
	for _, a := range q.s.accounts {
		if a.UserID == userID && a.Role == role {
			return a, nil
		}
	}
	return models.EscrowAccount{}, fmt.Errorf("get escrow account by owner: %w", ErrNotFound)
}

func (q *memQueries) ListEscrowAccountsByUser(_ context.Context, userID string) ([]models.EscrowAccount, error) {
	defer q.lock()()
	var out []models.EscrowAccount
	for _, a := range q.s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

func (q *memQueries) UpdateEscrowAccount(_ context.Context, a models.EscrowAccount) (int64, error) {
	defer q.lock()()
	current, ok := q.s.accounts[a.ID]
	if !ok {
		return 0, nil
	}
	remember(q, q.s.accounts, a.ID)
	current.Balance = a.Balance
	current.HeldBalance = a.HeldBalance
	current.Available = a.Available
	current.PendingReleases = a.PendingReleases
	current.Status = a.Status
	current.UpdatedAt = a.UpdatedAt
	q.s.accounts[a.ID] = current
	return 1, nil
}

func (q *memQueries) InsertEscrowTransaction(_ context.Context, t models.EscrowTransaction) error {
	defer q.lock()()
	if _, ok := q.s.transactions[t.ID]; ok {
		return fmt.Errorf("insert escrow transaction: %w", ErrConflict)
	}
	remember(q, q.s.transactions, t.ID)
	q.s.transactions[t.ID] = t
	return nil
}

func (q *memQueries) GetEscrowTransaction(_ context.Context, id uuid.UUID) (models.EscrowTransaction, error) {
	defer q.lock()()
	t, ok := q.s.transactions[id]
	if !ok {
		return models.EscrowTransaction{}, fmt.Errorf("get escrow transaction: %w", ErrNotFound)
	}
	return t, nil
}

func (q *memQueries) GetEscrowTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowTransaction, error) {
	return q.GetEscrowTransaction(ctx, id)
}

func (q *memQueries) UpdateEscrowTransaction(_ context.Context, t models.EscrowTransaction) (int64, error) {
	defer q.lock()()
	current, ok := q.s.transactions[t.ID]
	if !ok {
		return 0, nil
	}
	remember(q, q.s.transactions, t.ID)
	current.Status = t.Status
	current.ReleasedAt = t.ReleasedAt
	current.RefundedAmount = t.RefundedAmount
	current.DisputeID = t.DisputeID
	current.UpdatedAt = t.UpdatedAt
	q.s.transactions[t.ID] = current
	return 1, nil
}

func (q *memQueries) ListEscrowTransactionsByUser(_ context.Context, userID string, statuses []string, limit int32) ([]models.EscrowTransaction, error) {
	defer q.lock()()
	var out []models.EscrowTransaction
	for _, t := range q.s.transactions {
		if t.ToUserID != userID && t.FromUserID != userID {
			continue
		}
		if !slices.Contains(statuses, t.Status) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (q *memQueries) ListDueReleases(_ context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	defer q.lock()()
	var due []models.EscrowTransaction
	for _, t := range q.s.transactions {
		if t.Status != "held" || !t.AutoRelease || t.ReleaseDate.After(now) {
			continue
		}
		if acc, ok := q.s.accounts[t.AccountID]; !ok || acc.Status != "active" {
			continue
		}
		due = append(due, t)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ReleaseDate.Before(due[j].ReleaseDate) })
	due = truncate(due, limit)

	ids := make([]uuid.UUID, 0, len(due))
	for _, t := range due {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (q *memQueries) InsertEscrowRelease(_ context.Context, r models.EscrowRelease) error {
	defer q.lock()()
	if q.tx != nil {
		n := len(q.s.releases)
		q.tx.undo = append(q.tx.undo, func() { q.s.releases = q.s.releases[:n] })
	}
	q.s.releases = append(q.s.releases, r)
	return nil
}

func (q *memQueries) ListEscrowReleases(_ context.Context, transactionID uuid.UUID) ([]models.EscrowRelease, error) {
	defer q.lock()()
	var out []models.EscrowRelease
	for _, r := range q.s.releases {
		if r.TransactionID == transactionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (q *memQueries) InsertDispute(_ context.Context, d models.EscrowDispute) error {
	defer q.lock()()
	if _, ok := q.s.disputes[d.ID]; ok {
		return fmt.Errorf("insert dispute: %w", ErrConflict)
	}
	remember(q, q.s.disputes, d.ID)
	d.Evidence = slices.Clone(d.Evidence)
	q.s.disputes[d.ID] = d
	return nil
}

func (q *memQueries) GetDispute(_ context.Context, id uuid.UUID) (models.EscrowDispute, error) {
	defer q.lock()()
	d, ok := q.s.disputes[id]
	if !ok {
		return models.EscrowDispute{}, fmt.Errorf("get dispute: %w", ErrNotFound)
	}
	d.Evidence = slices.Clone(d.Evidence)
	return d, nil
}

func (q *memQueries) GetDisputeForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowDispute, error) {
	return q.GetDispute(ctx, id)
}

func (q *memQueries) UpdateDispute(_ context.Context, d models.EscrowDispute) (int64, error) {
	defer q.lock()()
	if _, ok := q.s.disputes[d.ID]; !ok {
		return 0, nil
	}
	remember(q, q.s.disputes, d.ID)
	d.Evidence = slices.Clone(d.Evidence)
	q.s.disputes[d.ID] = d
	return 1, nil
}

func (q *memQueries) InsertAuditLog(_ context.Context, e models.AuditEntry) error {
	defer q.lock()()
	if q.tx != nil {
		n := len(q.s.audit)
		q.tx.undo = append(q.tx.undo, func() { q.s.audit = q.s.audit[:n] })
	}
	q.s.audit = append(q.s.audit, e)
	return nil
}

func (q *memQueries) ListEscrowImbalances(_ context.Context) ([]EscrowImbalance, error) {
	defer q.lock()()
	open := make(map[uuid.UUID]EscrowImbalance, len(q.s.accounts))
	for _, t := range q.s.transactions {
		if t.Status != "held" && t.Status != "disputed" {
			continue
		}
		im := open[t.AccountID]
		im.OpenAmount += t.Amount
		im.OpenCount++
		open[t.AccountID] = im
	}

	var out []EscrowImbalance
	for id, a := range q.s.accounts {
		im := open[id]
		im.AccountID = id
		im.Balance = a.Balance
		im.HeldBalance = a.HeldBalance
		im.Available = a.Available
		im.PendingReleases = a.PendingReleases
		if a.Balance != a.HeldBalance+a.Available || a.HeldBalance != im.OpenAmount || a.PendingReleases != im.OpenCount {
			out = append(out, im)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID.String() < out[j].AccountID.String() })
	return out, nil
}

func truncate[T any](items []T, limit int32) []T {
	if limit > 0 && len(items) > int(limit) {
		return items[:limit]
	}
	return items
}
