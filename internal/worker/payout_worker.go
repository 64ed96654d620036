package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/service"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// PayoutWorker executes queued payouts in the background.
// Safe for concurrent instances: payouts are claimed before they are executed.
type PayoutWorker struct {
	*loop
	payoutService *service.PayoutService
	batchSize     int32
}

func NewPayoutWorker(payoutSvc *service.PayoutService) *PayoutWorker {
	return &PayoutWorker{
		loop:          newLoop("payouts", 10*time.Second),
		payoutService: payoutSvc,
		batchSize:     10,
	}
}

func (w *PayoutWorker) WithPollInterval(interval time.Duration) *PayoutWorker {
	w.setInterval(interval)
	return w
}

func (w *PayoutWorker) WithBatchSize(size int32) *PayoutWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

func (w *PayoutWorker) WithClock(clock clockz.Clock) *PayoutWorker {
	w.setClock(clock)
	return w
}

// Start blocks until Stop is called or the context is canceled.
func (w *PayoutWorker) Start(ctx context.Context) {
	w.start(ctx, w.ProcessOnce)
}

// ProcessOnce processes a single batch immediately.
func (w *PayoutWorker) ProcessOnce(ctx context.Context) error {
	n, err := w.payoutService.ProcessPayouts(ctx, w.batchSize)
	if n > 0 {
		zap.L().Info("payouts finalized", zap.Int("count", n))
	}
	return err
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *PayoutWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *PayoutWorker) String() string {
	return fmt.Sprintf("PayoutWorker(interval=%v, batch=%d)", w.interval, w.batchSize)
}
