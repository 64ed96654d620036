package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Category groups event types that share a queue and its workers.
type Category string

const (
	CategoryPayment Category = "payment"
	CategoryPayout  Category = "payout"
	CategoryHealth  Category = "health"
	CategoryEscrow  Category = "escrow"
)

var Categories = []Category{CategoryPayment, CategoryPayout, CategoryHealth, CategoryEscrow}

var (
	ErrQueueFull = errors.New("event queue is full")
	ErrBusClosed = errors.New("event bus is closed")
)

// CategoryOf maps an event type to its category by prefix.
func CategoryOf(eventType string) Category {
	switch {
	case strings.HasPrefix(eventType, "payment:"):
		return CategoryPayment
	case strings.HasPrefix(eventType, "payout:"):
		return CategoryPayout
	case strings.HasPrefix(eventType, "mid:"), strings.HasPrefix(eventType, "gateway:"):
		return CategoryHealth
	default:
		return CategoryEscrow
	}
}

type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Category   Category  `json:"category"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type Handler func(ctx context.Context, e Event) error

type subscription struct {
	name   string
	handle Handler
}

// Bus delivers events through one bounded queue per category. Publish never
// blocks: a full queue drops the event and reports ErrQueueFull.
type Bus struct {
	clock     clockz.Clock
	timeout   time.Duration
	queueSize int
	workers   int

	mu       sync.RWMutex
	closed   bool
	queues   map[Category]chan queued
	handlers map[Category][]subscription

	wg sync.WaitGroup
}

type queued struct {
	ctx   context.Context
	event Event
}

type Option func(*Bus)

func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithHandlerTimeout bounds each handler invocation. Zero disables the bound.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.timeout = d
	}
}

func WithClock(c clockz.Clock) Option {
	return func(b *Bus) {
		if c != nil {
			b.clock = c
		}
	}
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		clock:     clockz.RealClock,
		timeout:   5 * time.Second,
		queueSize: 256,
		workers:   1,
		queues:    make(map[Category]chan queued, len(Categories)),
		handlers:  make(map[Category][]subscription, len(Categories)),
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, cat := range Categories {
		q := make(chan queued, b.queueSize)
		b.queues[cat] = q
		for i := 0; i < b.workers; i++ {
			b.wg.Add(1)
			go b.worker(cat, q)
		}
	}
	return b
}

// Subscribe registers h for every event in category cat.
func (b *Bus) Subscribe(cat Category, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[cat] = append(b.handlers[cat], subscription{name: name, handle: h})
}

// SubscribeAll registers h for every category.
func (b *Bus) SubscribeAll(name string, h Handler) {
	for _, cat := range Categories {
		b.Subscribe(cat, name, h)
	}
}

// Publish queues an event. Handlers run detached from ctx cancellation but keep its values.
func (b *Bus) Publish(ctx context.Context, eventType string, payload any) error {
	cat := CategoryOf(eventType)
	e := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Category:   cat,
		OccurredAt: b.clock.Now().UTC(),
		Payload:    payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.queues[cat] <- queued{ctx: context.WithoutCancel(ctx), event: e}:
		return nil
	default:
		observability.IncrementEventDropped(string(cat))
		return fmt.Errorf("%s: %w", eventType, ErrQueueFull)
	}
}

// Close stops accepting events, drains the queues and waits for the workers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) worker(cat Category, q <-chan queued) {
	defer b.wg.Done()
	for item := range q {
		b.mu.RLock()
		subs := append([]subscription(nil), b.handlers[cat]...)
		b.mu.RUnlock()

		for _, sub := range subs {
			if err := b.dispatch(item.ctx, sub, item.event); err != nil {
				zap.L().Warn("event handler failed",
					zap.String("handler", sub.name),
					zap.String("event_type", item.event.Type),
					zap.String("event_id", item.event.ID),
					zap.Error(err),
				)
			}
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, sub subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = b.clock.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return sub.handle(ctx, e)
}
