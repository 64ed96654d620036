package worker

import (
	"context"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/service"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// MIDHealthWorker pauses MIDs that went over a limit.
type MIDHealthWorker struct {
	*loop
	health *service.HealthService
}

func NewMIDHealthWorker(health *service.HealthService) *MIDHealthWorker {
	return &MIDHealthWorker{loop: newLoop("mid_health", 30*time.Second), health: health}
}

func (w *MIDHealthWorker) WithInterval(interval time.Duration) *MIDHealthWorker {
	w.setInterval(interval)
	return w
}

func (w *MIDHealthWorker) WithClock(clock clockz.Clock) *MIDHealthWorker {
	w.setClock(clock)
	return w
}

func (w *MIDHealthWorker) Start(ctx context.Context) {
	w.start(ctx, w.CheckOnce)
}

func (w *MIDHealthWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *MIDHealthWorker) CheckOnce(ctx context.Context) error {
	_, err := w.health.CheckMIDs(ctx)
	return err
}

// GatewayHealthWorker probes gateways and moves them between active and maintenance.
type GatewayHealthWorker struct {
	*loop
	health *service.HealthService
}

func NewGatewayHealthWorker(health *service.HealthService) *GatewayHealthWorker {
	w := &GatewayHealthWorker{loop: newLoop("gateway_health", 30*time.Second), health: health}
	w.immediate = true
	return w
}

func (w *GatewayHealthWorker) WithInterval(interval time.Duration) *GatewayHealthWorker {
	w.setInterval(interval)
	return w
}

func (w *GatewayHealthWorker) WithClock(clock clockz.Clock) *GatewayHealthWorker {
	w.setClock(clock)
	return w
}

func (w *GatewayHealthWorker) Start(ctx context.Context) {
	w.start(ctx, w.CheckOnce)
}

func (w *GatewayHealthWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *GatewayHealthWorker) CheckOnce(ctx context.Context) error {
	down, restored := w.health.CheckGateways(ctx)
	if down > 0 || restored > 0 {
		zap.L().Info("gateway health changed", zap.Int("down", down), zap.Int("restored", restored))
	}
	return nil
}
