package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/zoobzio/clockz"
)

// Sandbox simulates processors for local runs. Each gateway approves a charge
// with probability equal to its configured success rate.
type Sandbox struct {
	clock   clockz.Clock
	latency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

type SandboxOption func(*Sandbox)

// WithLatency delays every call, honouring context cancellation.
func WithLatency(d time.Duration) SandboxOption {
	return func(s *Sandbox) {
		s.latency = d
	}
}

// WithSeed makes the outcome sequence reproducible.
func WithSeed(seed int64) SandboxOption {
	return func(s *Sandbox) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

func NewSandbox(clock clockz.Clock, opts ...SandboxOption) *Sandbox {
	if clock == nil {
		clock = clockz.RealClock
	}
	s := &Sandbox{
		clock: clock,
		rng:   rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sandbox) Execute(ctx context.Context, gw models.Gateway, req ChargeRequest) (Result, error) {
	if err := s.wait(ctx); err != nil {
		return Result{}, fmt.Errorf("gateway %s call canceled: %w", gw.ID, err)
	}

	rate, _ := gw.SuccessRate.Float64()
	roll, n := s.roll()
	if roll >= rate {
		return Result{Success: false, Message: fmt.Sprintf("%s declined the transaction", gw.Name)}, nil
	}
	ref := fmt.Sprintf("%s-%s-%05d", strings.ToUpper(gw.ID), s.clock.Now().UTC().Format("20060102-150405"), n)
	return Result{Success: true, TransactionID: ref, Message: "approved"}, nil
}

func (s *Sandbox) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-s.clock.After(s.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sandbox) roll() (float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64(), s.rng.Intn(100000)
}

// SandboxPayouts simulates payout rails and fails a fixed share of instructions.
type SandboxPayouts struct {
	sandbox     *Sandbox
	FailureRate float64
}

func NewSandboxPayouts(clock clockz.Clock, failureRate float64, opts ...SandboxOption) *SandboxPayouts {
	return &SandboxPayouts{sandbox: NewSandbox(clock, opts...), FailureRate: failureRate}
}

func (p *SandboxPayouts) Execute(ctx context.Context, in PayoutInstruction) (PayoutResult, error) {
	if err := p.sandbox.wait(ctx); err != nil {
		return PayoutResult{}, fmt.Errorf("payout %s canceled: %w", in.Reference, err)
	}
	roll, n := p.sandbox.roll()
	if roll < p.FailureRate {
		return PayoutResult{}, fmt.Errorf("%s rail temporarily unavailable: %w", in.MethodID, ErrDeclined)
	}
	id := fmt.Sprintf("PO-%s-%s-%05d", strings.ToUpper(in.MethodID), p.sandbox.clock.Now().UTC().Format("20060102"), n)
	return PayoutResult{PayoutID: id, Status: "completed"}, nil
}
