package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/gateway"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/registry"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"github.com/ayo6706/payment-orchestrator/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func usd(dollars int64) int64 {
	return dollars * 1_000_000
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

type recordedEvent struct {
	Type    string
	Payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: eventType, Payload: payload})
	return nil
}

func (p *recordingPublisher) Count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) Last(eventType string) (recordedEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == eventType {
			return p.events[i], true
		}
	}
	return recordedEvent{}, false
}

type fixture struct {
	store    *repository.MemoryStore
	events   *recordingPublisher
	clock    *testutil.Clock
	locks    *AccountLocks
	gateways *registry.GatewayRegistry
	mids     *registry.MIDRegistry
	escrow   *EscrowService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  repository.NewMemoryStore(),
		events: &recordingPublisher{},
		clock:  testutil.NewClock(t0),
		locks:  NewAccountLocks(),
	}
	f.gateways = registry.NewGatewayRegistry(testGateways(), f.clock)
	f.mids = registry.NewMIDRegistry(testMIDs(), f.clock)
	f.escrow = NewEscrowService(f.store, f.events, f.locks, f.clock, EscrowConfig{
		DefaultHoldDays: domain.DefaultHoldDays,
		MaxHoldAmount:   usd(10_000),
	})
	return f
}

func testGateways() []models.Gateway {
	return []models.Gateway{
		{
			ID:            "ccbill",
			Status:        domain.GatewayStatusActive,
			Regions:       []string{"US", "EU"},
			AdultEligible: true,
			Fees:          models.FeeSchedule{Percentage: decimal.NewFromInt(10), Fixed: 500_000, Currency: "USD"},
			HealthURL:     "http://ccbill.test/health",
		},
		{
			ID:            "segpay",
			Status:        domain.GatewayStatusActive,
			Regions:       []string{"US"},
			AdultEligible: true,
			Fees:          models.FeeSchedule{Percentage: decimal.NewFromFloat(4.5), Currency: "USD"},
			HealthURL:     "http://segpay.test/health",
		},
		{
			ID:     "bank_ach",
			Status: domain.GatewayStatusDisabled,
		},
	}
}

func testMIDs() []models.MerchantID {
	return []models.MerchantID{
		{
			ID:        "ccbill-us-01",
			GatewayID: "ccbill",
			Region:    "US",
			Status:    domain.MIDStatusActive,
			Limits: models.MIDLimits{
				Daily:               usd(1_000),
				Monthly:             usd(20_000),
				ChargebackThreshold: decimal.NewFromInt(1),
			},
		},
		{
			ID:        "ccbill-eu-01",
			GatewayID: "ccbill",
			Region:    "EU",
			Status:    domain.MIDStatusActive,
		},
	}
}

func testRules() []models.RoutingRule {
	return []models.RoutingRule{
		{
			ID:            "us-cards",
			Priority:      10,
			Conditions:    models.RuleConditions{Regions: []string{"US"}},
			TargetGateway: "ccbill",
			Fallbacks:     []string{"segpay"},
			Enabled:       true,
		},
		{
			ID:            "eu-cards",
			Priority:      20,
			Conditions:    models.RuleConditions{Regions: []string{"EU"}},
			TargetGateway: "ccbill",
			Enabled:       true,
		},
	}
}

// hold places amount in escrow for creator and returns the transaction.
func (f *fixture) hold(t *testing.T, creator string, amount int64) models.EscrowTransaction {
	t.Helper()
	tx, err := f.escrow.HoldFunds(context.Background(), HoldRequest{
		From:     "fan-1",
		To:       creator,
		Amount:   amount,
		Currency: "USD",
		Reason:   "subscription",
		HoldDays: intPtr(7),
	})
	require.NoError(t, err)
	return tx
}

// creatorAccount returns the creator-role account of user.
func (f *fixture) creatorAccount(t *testing.T, user string) models.EscrowAccount {
	t.Helper()
	acc, err := f.store.Queries().GetEscrowAccountByOwner(context.Background(), user, domain.RoleCreator)
	require.NoError(t, err)
	return acc
}

type stubExecutor struct {
	mu       sync.Mutex
	calls    int
	gateways []string
	result   gateway.Result
	err      error
	block    bool
}

func (s *stubExecutor) Execute(ctx context.Context, gw models.Gateway, _ gateway.ChargeRequest) (gateway.Result, error) {
	s.mu.Lock()
	s.calls++
	s.gateways = append(s.gateways, gw.ID)
	block, result, err := s.block, s.result, s.err
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return gateway.Result{}, ctx.Err()
	}
	return result, err
}

func (s *stubExecutor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubPayouts struct {
	mu    sync.Mutex
	calls []gateway.PayoutInstruction
	err   error
}

func (s *stubPayouts) Execute(_ context.Context, in gateway.PayoutInstruction) (gateway.PayoutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, in)
	if s.err != nil {
		return gateway.PayoutResult{}, s.err
	}
	return gateway.PayoutResult{PayoutID: "EXT-" + in.Reference, Status: "sent"}, nil
}

func (s *stubPayouts) Calls() []gateway.PayoutInstruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.PayoutInstruction(nil), s.calls...)
}

func (s *stubPayouts) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
