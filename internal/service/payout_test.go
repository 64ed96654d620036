package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/catalog"
	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/registry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPayoutService(f *fixture) (*PayoutService, *stubPayouts) {
	exec := &stubPayouts{}
	methods := registry.NewPayoutMethods(catalog.Default().PayoutMethods)
	return NewPayoutService(f.store, methods, exec, f.locks, f.events, f.clock), exec
}

// fund makes amount available to creator by holding and releasing it.
func (f *fixture) fund(t *testing.T, creator string, amount int64) {
	t.Helper()
	held := f.hold(t, creator, amount)
	_, err := f.escrow.ReleaseFunds(context.Background(), held.ID, domain.ReleaseTypeManual, "admin-1")
	require.NoError(t, err)
}

func countPayouts(t *testing.T, f *fixture) int {
	t.Helper()
	claimed, err := f.store.Queries().ClaimProcessingPayouts(context.Background(), f.clock.Now(), f.clock.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	return len(claimed)
}

func TestPayoutBelowMethodMinimum(t *testing.T) {
	f := newFixture(t)
	svc, exec := newPayoutService(f)
	f.fund(t, "creator-1", usd(100))

	_, err := svc.Payout(context.Background(), PayoutInput{
		CreatorID: "creator-1", Amount: usd(5), MethodID: "paxum", Destination: "creator@paxum.test",
	})
	require.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	acc := f.creatorAccount(t, "creator-1")
	assert.Equal(t, usd(100), acc.Available)
	assert.Zero(t, countPayouts(t, f))
	assert.Empty(t, exec.Calls())
}

func TestPayoutRejectsUnknownMethodAndMissingFields(t *testing.T) {
	f := newFixture(t)
	svc, _ := newPayoutService(f)
	ctx := context.Background()

	_, err := svc.Payout(ctx, PayoutInput{CreatorID: "creator-1", Amount: usd(50), MethodID: "carrier_pigeon", Destination: "x"})
	require.ErrorIs(t, err, domain.ErrPayoutMethodNotFound)

	_, err = svc.Payout(ctx, PayoutInput{CreatorID: "creator-1", Amount: usd(50), MethodID: "paxum"})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = svc.Payout(ctx, PayoutInput{CreatorID: "creator-1", Amount: usd(50), MethodID: "paxum", Destination: "x"})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestPayoutCompletes(t *testing.T) {
	f := newFixture(t)
	svc, exec := newPayoutService(f)
	ctx := context.Background()
	f.fund(t, "creator-1", usd(100))

	payout, err := svc.Payout(ctx, PayoutInput{
		CreatorID: "creator-1", Amount: usd(50), MethodID: "paxum", Destination: "creator@paxum.test",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessing, payout.Status)
	assert.Equal(t, usd(1), payout.Fee)
	assert.Equal(t, usd(49), payout.NetAmount)
	assert.Equal(t, "USD", payout.Currency)

	acc := f.creatorAccount(t, "creator-1")
	assert.Equal(t, usd(50), acc.Available)
	assert.Equal(t, usd(50), acc.Balance)

	n, err := svc.ProcessPayouts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, payout.ID.String(), calls[0].Reference)
	assert.Equal(t, usd(49), calls[0].Amount)
	assert.Equal(t, "creator@paxum.test", calls[0].Destination)

	stored, err := svc.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, stored.Status)
	assert.Equal(t, "EXT-"+payout.ID.String(), stored.ExternalPayoutID)
	require.NotNil(t, stored.CompletedAt)

	acc = f.creatorAccount(t, "creator-1")
	assert.Equal(t, usd(50), acc.Available)
	assert.Equal(t, 1, f.events.Count(domain.EventPayoutCompleted))

	n, err = svc.ProcessPayouts(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, exec.Calls(), 1)
}

func TestPayoutFailureCreditsBack(t *testing.T) {
	f := newFixture(t)
	svc, exec := newPayoutService(f)
	ctx := context.Background()
	f.fund(t, "creator-1", usd(100))
	exec.setErr(errors.New("destination closed"))

	payout, err := svc.Payout(ctx, PayoutInput{
		CreatorID: "creator-1", Amount: usd(60), MethodID: "paxum", Destination: "creator@paxum.test",
	})
	require.NoError(t, err)

	n, err := svc.ProcessPayouts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := svc.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, stored.Status)
	assert.Equal(t, "destination closed", stored.FailureReason)

	acc := f.creatorAccount(t, "creator-1")
	assert.Equal(t, usd(100), acc.Available)
	assert.Equal(t, usd(100), acc.Balance)
	assert.True(t, acc.Balanced())
	assert.Equal(t, 1, f.events.Count(domain.EventPayoutFailed))
}

func TestPayoutInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	svc, _ := newPayoutService(f)
	f.hold(t, "creator-1", usd(500))
	f.fund(t, "creator-1", usd(30))

	_, err := svc.Payout(context.Background(), PayoutInput{
		CreatorID: "creator-1", Amount: usd(50), MethodID: "paxum", Destination: "creator@paxum.test",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	acc := f.creatorAccount(t, "creator-1")
	assert.Equal(t, usd(30), acc.Available)
	assert.Equal(t, usd(500), acc.HeldBalance)
}

func TestPayoutFrozenAccount(t *testing.T) {
	f := newFixture(t)
	svc, _ := newPayoutService(f)
	f.fund(t, "creator-1", usd(100))
	acc := f.creatorAccount(t, "creator-1")
	_, err := f.escrow.FreezeAccount(context.Background(), acc.ID, "admin-1")
	require.NoError(t, err)

	_, err = svc.Payout(context.Background(), PayoutInput{
		CreatorID: "creator-1", Amount: usd(50), MethodID: "paxum", Destination: "creator@paxum.test",
	})
	require.ErrorIs(t, err, domain.ErrAccountNotActive)
}

func TestPayoutReferenceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	svc, _ := newPayoutService(f)
	ctx := context.Background()
	f.fund(t, "creator-1", usd(100))

	in := PayoutInput{
		CreatorID: "creator-1", Amount: usd(40), MethodID: "paxum", Destination: "creator@paxum.test", ReferenceID: "ref-1",
	}
	first, err := svc.Payout(ctx, in)
	require.NoError(t, err)
	second, err := svc.Payout(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	acc := f.creatorAccount(t, "creator-1")
	assert.Equal(t, usd(60), acc.Available)
}

func TestPayoutReferenceIsScopedToCreator(t *testing.T) {
	f := newFixture(t)
	svc, _ := newPayoutService(f)
	ctx := context.Background()
	f.fund(t, "creator-1", usd(100))
	f.fund(t, "creator-2", usd(100))

	first, err := svc.Payout(ctx, PayoutInput{
		CreatorID: "creator-1", Amount: usd(40), MethodID: "paxum", Destination: "one@paxum.test", ReferenceID: "ref-1",
	})
	require.NoError(t, err)

	second, err := svc.Payout(ctx, PayoutInput{
		CreatorID: "creator-2", Amount: usd(25), MethodID: "paxum", Destination: "two@paxum.test", ReferenceID: "ref-1",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "creator-2", second.CreatorID)
	assert.Equal(t, usd(25), second.Amount)
	assert.Equal(t, "two@paxum.test", second.Destination)

	assert.Equal(t, usd(60), f.creatorAccount(t, "creator-1").Available)
	assert.Equal(t, usd(75), f.creatorAccount(t, "creator-2").Available)
	assert.Equal(t, 2, countPayouts(t, f))
}

func TestPayoutInterruptedExecutionIsRetriedAfterClaimGoesStale(t *testing.T) {
	f := newFixture(t)
	svc, exec := newPayoutService(f)
	ctx := context.Background()
	f.fund(t, "creator-1", usd(100))

	payout, err := svc.Payout(ctx, PayoutInput{
		CreatorID: "creator-1", Amount: usd(50), MethodID: "paxum", Destination: "creator@paxum.test",
	})
	require.NoError(t, err)

	exec.setErr(context.DeadlineExceeded)
	n, err := svc.ProcessPayouts(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := svc.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessing, stored.Status)

	exec.setErr(nil)
	n, err = svc.ProcessPayouts(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, exec.Calls(), 1)

	f.clock.Advance(stalePayoutClaimWindow + time.Second)
	n, err = svc.ProcessPayouts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Reference, calls[1].Reference)

	stored, err = svc.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, stored.Status)
}

func TestGetPayoutNotFound(t *testing.T) {
	f := newFixture(t)
	svc, _ := newPayoutService(f)

	_, err := svc.GetPayout(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrPayoutNotFound)

	methods := svc.ListPayoutMethods()
	require.NotEmpty(t, methods)
	ids := make([]string, 0, len(methods))
	for _, m := range methods {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, "paxum")
}
