package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRollsBackFailedTx(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	account := models.EscrowAccount{ID: uuid.New(), UserID: "creator-1", Role: "creator", Status: "active"}
	require.NoError(t, store.Queries().InsertEscrowAccount(ctx, account))

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(q Queries) error {
		account.Balance = 100
		account.HeldBalance = 100
		rows, err := q.UpdateEscrowAccount(ctx, account)
		require.NoError(t, err)
		require.Equal(t, int64(1), rows)
		require.NoError(t, q.InsertEscrowRelease(ctx, models.EscrowRelease{ID: uuid.New(), AccountID: account.ID}))
		require.NoError(t, q.InsertEscrowTransaction(ctx, models.EscrowTransaction{ID: uuid.New(), AccountID: account.ID}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Queries().GetEscrowAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance)
	assert.Equal(t, int64(0), got.HeldBalance)

	releases, err := store.Queries().ListEscrowReleases(ctx, uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, releases)
}

func TestMemoryStoreCommitsTx(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	txID := uuid.New()

	err := store.RunInTx(ctx, func(q Queries) error {
		return q.InsertEscrowTransaction(ctx, models.EscrowTransaction{ID: txID, Status: "held"})
	})
	require.NoError(t, err)

	got, err := store.Queries().GetEscrowTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, "held", got.Status)
}

func TestMemoryStoreAccountOwnerIsUnique(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Queries().InsertEscrowAccount(ctx, models.EscrowAccount{ID: uuid.New(), UserID: "u1", Role: "fan"}))
	err := store.Queries().InsertEscrowAccount(ctx, models.EscrowAccount{ID: uuid.New(), UserID: "u1", Role: "fan"})
	require.ErrorIs(t, err, ErrConflict)

	require.NoError(t, store.Queries().InsertEscrowAccount(ctx, models.EscrowAccount{ID: uuid.New(), UserID: "u1", Role: "creator"}))

	accounts, err := store.Queries().ListEscrowAccountsByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestMemoryStoreFinalizePaymentOnlyFromProcessing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	q := store.Queries()

	require.NoError(t, q.InsertPayment(ctx, models.PaymentTransaction{ID: "pay-1", Status: "processing"}))
	require.ErrorIs(t, q.InsertPayment(ctx, models.PaymentTransaction{ID: "pay-1", Status: "processing"}), ErrConflict)

	rows, err := q.FinalizePayment(ctx, models.PaymentTransaction{ID: "pay-1", Status: "completed", Fees: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = q.FinalizePayment(ctx, models.PaymentTransaction{ID: "pay-1", Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	got, err := q.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, int64(10), got.Fees)

	_, err = q.GetPayment(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListDueReleases(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	q := store.Queries()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	active, frozen := uuid.New(), uuid.New()
	require.NoError(t, q.InsertEscrowAccount(ctx, models.EscrowAccount{ID: active, UserID: "creator-1", Role: "creator", Currency: "USD", Status: "active"}))
	require.NoError(t, q.InsertEscrowAccount(ctx, models.EscrowAccount{ID: frozen, UserID: "creator-2", Role: "creator", Currency: "USD", Status: "frozen"}))

	due := uuid.New()
	require.NoError(t, q.InsertEscrowTransaction(ctx, models.EscrowTransaction{ID: due, AccountID: active, Status: "held", AutoRelease: true, ReleaseDate: now.Add(-time.Minute)}))
	require.NoError(t, q.InsertEscrowTransaction(ctx, models.EscrowTransaction{ID: uuid.New(), AccountID: active, Status: "held", AutoRelease: true, ReleaseDate: now.Add(time.Minute)}))
	require.NoError(t, q.InsertEscrowTransaction(ctx, models.EscrowTransaction{ID: uuid.New(), AccountID: active, Status: "held", AutoRelease: false, ReleaseDate: now.Add(-time.Hour)}))
	require.NoError(t, q.InsertEscrowTransaction(ctx, models.EscrowTransaction{ID: uuid.New(), AccountID: active, Status: "disputed", AutoRelease: true, ReleaseDate: now.Add(-time.Hour)}))
	require.NoError(t, q.InsertEscrowTransaction(ctx, models.EscrowTransaction{ID: uuid.New(), AccountID: frozen, Status: "held", AutoRelease: true, ReleaseDate: now.Add(-time.Hour)}))

	ids, err := q.ListDueReleases(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{due}, ids)
}

func TestMemoryStoreListEscrowTransactionsByUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	q := store.Queries()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.InsertEscrowTransaction(ctx, models.EscrowTransaction{
			ID:         uuid.New(),
			FromUserID: "fan-1",
			ToUserID:   "creator-1",
			Status:     "held",
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, q.InsertEscrowTransaction(ctx, models.EscrowTransaction{ID: uuid.New(), ToUserID: "creator-1", Status: "released", CreatedAt: base}))

	pending, err := q.ListEscrowTransactionsByUser(ctx, "creator-1", PendingEscrowStatuses, 3)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.True(t, pending[0].CreatedAt.After(pending[1].CreatedAt))

	history, err := q.ListEscrowTransactionsByUser(ctx, "creator-1", HistoryEscrowStatuses, 50)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	fanView, err := q.ListEscrowTransactionsByUser(ctx, "fan-1", PendingEscrowStatuses, 50)
	require.NoError(t, err)
	assert.Len(t, fanView, 5)
}

func TestMemoryStoreClaimProcessingPayouts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	q := store.Queries()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	first := uuid.New()
	require.NoError(t, q.InsertPayout(ctx, models.PayoutRequest{ID: first, Status: "processing", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, q.InsertPayout(ctx, models.PayoutRequest{ID: uuid.New(), Status: "processing", CreatedAt: now}))
	require.NoError(t, q.InsertPayout(ctx, models.PayoutRequest{ID: uuid.New(), Status: "completed", CreatedAt: now}))

	claimed, err := q.ClaimProcessingPayouts(ctx, now, now.Add(-time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, first, claimed[0].ID)
	require.NotNil(t, claimed[0].ClaimedAt)

	claimed, err = q.ClaimProcessingPayouts(ctx, now, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1, "fresh claims are skipped")
	assert.NotEqual(t, first, claimed[0].ID)

	later := now.Add(10 * time.Minute)
	claimed, err = q.ClaimProcessingPayouts(ctx, later, later.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 2, "stale claims are taken over")
}

func TestMemoryStoreMarkPaymentChargedBack(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	q := store.Queries()
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	require.NoError(t, q.InsertPayment(ctx, models.PaymentTransaction{ID: "done", Status: "completed"}))
	require.NoError(t, q.InsertPayment(ctx, models.PaymentTransaction{ID: "open", Status: "processing"}))

	rows, err := q.MarkPaymentChargedBack(ctx, "done", at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = q.MarkPaymentChargedBack(ctx, "done", at.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, rows)

	rows, err = q.MarkPaymentChargedBack(ctx, "open", at)
	require.NoError(t, err)
	assert.Zero(t, rows)

	got, err := q.GetPayment(ctx, "done")
	require.NoError(t, err)
	require.NotNil(t, got.ChargedBackAt)
	assert.True(t, got.ChargedBackAt.Equal(at))
}

func TestMemoryStoreListEscrowImbalances(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	q := store.Queries()

	balanced := models.EscrowAccount{ID: uuid.New(), UserID: "creator-1", Role: "creator", Status: "active",
		Balance: 150, HeldBalance: 100, Available: 50, PendingReleases: 1}
	drifted := models.EscrowAccount{ID: uuid.New(), UserID: "creator-2", Role: "creator", Status: "active",
		Balance: 100, HeldBalance: 100, PendingReleases: 2}
	require.NoError(t, q.InsertEscrowAccount(ctx, balanced))
	require.NoError(t, q.InsertEscrowAccount(ctx, drifted))

	require.NoError(t, q.InsertEscrowTransaction(ctx, models.EscrowTransaction{ID: uuid.New(), AccountID: balanced.ID, Amount: 100, Status: "held"}))
	require.NoError(t, q.InsertEscrowTransaction(ctx, models.EscrowTransaction{ID: uuid.New(), AccountID: balanced.ID, Amount: 50, Status: "released"}))
	require.NoError(t, q.InsertEscrowTransaction(ctx, models.EscrowTransaction{ID: uuid.New(), AccountID: drifted.ID, Amount: 60, Status: "disputed"}))

	imbalances, err := q.ListEscrowImbalances(ctx)
	require.NoError(t, err)
	require.Len(t, imbalances, 1)
	assert.Equal(t, drifted.ID, imbalances[0].AccountID)
	assert.Equal(t, int64(60), imbalances[0].OpenAmount)
	assert.Equal(t, 1, imbalances[0].OpenCount)
	assert.Equal(t, 2, imbalances[0].PendingReleases)
}
