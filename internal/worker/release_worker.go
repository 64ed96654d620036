package worker

import (
	"context"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/service"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

const releaseLeaseKey = "escrow-auto-release"

// ReleaseSweeper releases escrow transactions whose hold period has ended.
type ReleaseSweeper interface {
	ReleaseDue(ctx context.Context, limit int32) (int, error)
}

// ReleaseWorker sweeps due escrow releases. With a lease configured only the
// replica holding it sweeps on a given tick.
type ReleaseWorker struct {
	*loop
	sweeper   ReleaseSweeper
	lease     Lease
	batchSize int32
}

func NewReleaseWorker(escrow *service.EscrowService) *ReleaseWorker {
	return newReleaseWorker(escrow)
}

func newReleaseWorker(sweeper ReleaseSweeper) *ReleaseWorker {
	return &ReleaseWorker{
		loop:      newLoop("auto_release", time.Minute),
		sweeper:   sweeper,
		batchSize: 100,
	}
}

func (w *ReleaseWorker) WithInterval(interval time.Duration) *ReleaseWorker {
	w.setInterval(interval)
	return w
}

func (w *ReleaseWorker) WithBatchSize(size int32) *ReleaseWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

func (w *ReleaseWorker) WithLease(lease Lease) *ReleaseWorker {
	w.lease = lease
	return w
}

func (w *ReleaseWorker) WithClock(clock clockz.Clock) *ReleaseWorker {
	w.setClock(clock)
	return w
}

func (w *ReleaseWorker) Start(ctx context.Context) {
	w.start(ctx, w.SweepOnce)
}

func (w *ReleaseWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// SweepOnce runs a single sweep. It is a no-op when another replica holds the lease.
func (w *ReleaseWorker) SweepOnce(ctx context.Context) error {
	if w.lease != nil {
		// shorter than the interval so a crashed holder does not skip more than one tick
		ok, err := w.lease.Acquire(ctx, releaseLeaseKey, w.interval*9/10)
		if err != nil {
			return err
		}
		if !ok {
			zap.L().Debug("auto-release lease held elsewhere")
			return nil
		}
	}

	n, err := w.sweeper.ReleaseDue(ctx, w.batchSize)
	if n > 0 {
		zap.L().Info("escrow auto-released", zap.Int("count", n))
	}
	return err
}
