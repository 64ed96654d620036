package worker

import (
	"context"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/service"
	"github.com/zoobzio/clockz"
)

const staleSweepBatch = 100

// ReconciliationWorker runs periodic escrow ledger reconciliation checks and,
// when given a payment service, expires payments stuck in processing.
type ReconciliationWorker struct {
	*loop
	svc      *service.ReconciliationService
	payments *service.PaymentService
}

// NewReconciliationWorker constructs a worker with a default daily interval.
// It also runs once at startup.
func NewReconciliationWorker(svc *service.ReconciliationService) *ReconciliationWorker {
	w := &ReconciliationWorker{
		loop: newLoop("reconciliation", 24*time.Hour),
		svc:  svc,
	}
	w.immediate = true
	return w
}

func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	w.setInterval(interval)
	return w
}

func (w *ReconciliationWorker) WithPayments(payments *service.PaymentService) *ReconciliationWorker {
	w.payments = payments
	return w
}

func (w *ReconciliationWorker) WithClock(clock clockz.Clock) *ReconciliationWorker {
	w.setClock(clock)
	return w
}

// Start blocks and runs reconciliation at the configured interval.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	w.start(ctx, w.runOnce)
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) error {
	if w.payments != nil {
		if _, err := w.payments.ExpireStale(ctx, staleSweepBatch); err != nil {
			return err
		}
	}
	_, err := w.svc.Run(ctx)
	return err
}
