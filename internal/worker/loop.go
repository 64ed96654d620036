package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// loop runs tick on every interval until its context ends or Stop is called.
// A tick never overlaps the previous one.
type loop struct {
	name      string
	interval  time.Duration
	clock     clockz.Clock
	immediate bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newLoop(name string, interval time.Duration) *loop {
	return &loop{
		name:     name,
		interval: interval,
		clock:    clockz.RealClock,
		stopCh:   make(chan struct{}),
	}
}

func (l *loop) setInterval(d time.Duration) {
	if d > 0 {
		l.interval = d
	}
}

func (l *loop) setClock(c clockz.Clock) {
	if c != nil {
		l.clock = c
	}
}

func (l *loop) start(ctx context.Context, tick func(ctx context.Context) error) {
	zap.L().Info("worker starting", zap.String("worker", l.name), zap.Duration("interval", l.interval))
	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	if l.immediate {
		l.run(ctx, tick)
	}
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker context canceled", zap.String("worker", l.name))
			return
		case <-l.stopCh:
			zap.L().Info("worker stop signal received", zap.String("worker", l.name))
			return
		case <-ticker.C():
			l.run(ctx, tick)
		}
	}
}

func (l *loop) run(ctx context.Context, tick func(ctx context.Context) error) {
	if err := tick(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.IncrementWorkerRun(l.name, "failed")
		zap.L().Error("worker run failed", zap.String("worker", l.name), zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(l.name, "success")
}

// Stop stops the running worker loop. It is safe to call more than once.
func (l *loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}
