package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/gateway"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"github.com/ayo6706/payment-orchestrator/internal/registry"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultProbeTimeout = 5 * time.Second
	maxConcurrentProbes = 8
)

// MIDEvent is the payload of mid:* events.
type MIDEvent struct {
	MIDID     string `json:"mid_id"`
	GatewayID string `json:"gateway_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

// GatewayEvent is the payload of gateway:* events.
type GatewayEvent struct {
	GatewayID string `json:"gateway_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

// HealthService keeps MID and gateway statuses in line with their limits and probes,
// and applies operator overrides.
type HealthService struct {
	gateways     *registry.GatewayRegistry
	mids         *registry.MIDRegistry
	prober       gateway.Prober
	events       EventPublisher
	store        QueryStore
	audit        *AuditService
	clock        clockz.Clock
	probeTimeout time.Duration
}

func NewHealthService(gateways *registry.GatewayRegistry, mids *registry.MIDRegistry, prober gateway.Prober, store QueryStore, events EventPublisher, clock clockz.Clock, probeTimeout time.Duration) *HealthService {
	if clock == nil {
		clock = clockz.RealClock
	}
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &HealthService{
		gateways:     gateways,
		mids:         mids,
		prober:       prober,
		events:       events,
		store:        store,
		audit:        NewAuditService(clock),
		clock:        clock,
		probeTimeout: probeTimeout,
	}
}

// CheckMIDs pauses every active MID over its chargeback threshold or its daily or
// monthly volume limit. It returns the number of MIDs it paused.
func (s *HealthService) CheckMIDs(ctx context.Context) (int, error) {
	s.mids.Roll()

	paused := 0
	for _, mid := range s.mids.List() {
		if err := ctx.Err(); err != nil {
			return paused, err
		}
		if mid.Status != domain.MIDStatusActive {
			continue
		}
		reason, over := limitExceeded(mid)
		if !over {
			continue
		}
		swapped, err := s.mids.CompareAndSetStatus(mid.ID, domain.MIDStatusActive, domain.MIDStatusPaused, reason)
		if err != nil {
			return paused, err
		}
		if !swapped {
			continue
		}
		paused++
		observability.IncrementMIDTransition(domain.MIDStatusPaused, reason)
		zap.L().Warn("mid paused",
			zap.String("mid", mid.ID),
			zap.String("gateway", mid.GatewayID),
			zap.String("reason", reason),
			zap.String("chargeback_rate", mid.Current.ChargebackRate.String()),
			zap.Int64("volume", mid.Current.Volume),
		)
		s.writeAudit(ctx, "mid", mid.ID, domain.SystemActor, "paused", domain.MIDStatusActive, domain.MIDStatusPaused, map[string]string{"reason": reason})
		publish(ctx, s.events, domain.EventMIDPaused, MIDEvent{
			MIDID: mid.ID, GatewayID: mid.GatewayID, Status: domain.MIDStatusPaused, Reason: reason, Actor: domain.SystemActor,
		})
	}
	return paused, nil
}

func limitExceeded(mid models.MerchantID) (string, bool) {
	threshold := mid.Limits.ChargebackThreshold
	if threshold.IsPositive() && mid.Current.ChargebackRate.GreaterThan(threshold) {
		return domain.PauseReasonChargebackThreshold, true
	}
	if mid.Limits.Daily > 0 && mid.Current.Volume > mid.Limits.Daily {
		return domain.PauseReasonDailyLimit, true
	}
	if mid.Limits.Monthly > 0 && mid.Current.MonthlyVolume > mid.Limits.Monthly {
		return domain.PauseReasonMonthlyLimit, true
	}
	return "", false
}

// CheckGateways probes every gateway the monitor owns. Failing gateways go to
// maintenance and recovered ones back to active. Probe errors never propagate.
func (s *HealthService) CheckGateways(ctx context.Context) (down, restored int) {
	var downCount, restoredCount atomic.Int32

	var g errgroup.Group
	g.SetLimit(maxConcurrentProbes)
	for _, gw := range s.gateways.List() {
		if gw.Status == domain.GatewayStatusDisabled || gw.Pinned {
			continue
		}
		g.Go(func() error {
			switch s.probe(ctx, gw) {
			case domain.EventGatewayDown:
				downCount.Add(1)
			case domain.EventGatewayRestored:
				restoredCount.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(downCount.Load()), int(restoredCount.Load())
}

// probe returns the event it emitted, if any.
func (s *HealthService) probe(ctx context.Context, gw models.Gateway) string {
	probeCtx, cancel := s.clock.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	probeErr := s.prober.Probe(probeCtx, gw)
	if probeErr != nil {
		swapped, err := s.gateways.CompareAndSetStatus(gw.ID, domain.GatewayStatusActive, domain.GatewayStatusMaintenance)
		if err != nil || !swapped {
			return ""
		}
		zap.L().Warn("gateway down", zap.String("gateway", gw.ID), zap.Error(probeErr))
		s.writeAudit(ctx, "gateway", gw.ID, domain.SystemActor, "probe_failed", domain.GatewayStatusActive, domain.GatewayStatusMaintenance, map[string]string{"error": probeErr.Error()})
		publish(ctx, s.events, domain.EventGatewayDown, GatewayEvent{
			GatewayID: gw.ID, Status: domain.GatewayStatusMaintenance, Error: probeErr.Error(), Actor: domain.SystemActor,
		})
		return domain.EventGatewayDown
	}

	swapped, err := s.gateways.CompareAndSetStatus(gw.ID, domain.GatewayStatusMaintenance, domain.GatewayStatusActive)
	if err != nil || !swapped {
		return ""
	}
	zap.L().Info("gateway restored", zap.String("gateway", gw.ID))
	s.writeAudit(ctx, "gateway", gw.ID, domain.SystemActor, "probe_recovered", domain.GatewayStatusMaintenance, domain.GatewayStatusActive, nil)
	publish(ctx, s.events, domain.EventGatewayRestored, GatewayEvent{
		GatewayID: gw.ID, Status: domain.GatewayStatusActive, Actor: domain.SystemActor,
	})
	return domain.EventGatewayRestored
}

// PauseMID takes a MID out of routing until it is resumed.
func (s *HealthService) PauseMID(ctx context.Context, id, reason, actor string) (models.MerchantID, error) {
	if reason == "" {
		reason = domain.PauseReasonManual
	}
	return s.setMIDStatus(ctx, id, domain.MIDStatusPaused, reason, actor, domain.EventMIDPaused)
}

// ResumeMID returns a MID to routing. The next monitor tick pauses it again if
// it is still over a limit.
func (s *HealthService) ResumeMID(ctx context.Context, id, actor string) (models.MerchantID, error) {
	return s.setMIDStatus(ctx, id, domain.MIDStatusActive, "", actor, domain.EventMIDResumed)
}

// SuspendMID removes a MID from routing and from the monitor's control.
func (s *HealthService) SuspendMID(ctx context.Context, id, reason, actor string) (models.MerchantID, error) {
	if reason == "" {
		reason = domain.PauseReasonManual
	}
	return s.setMIDStatus(ctx, id, domain.MIDStatusSuspended, reason, actor, domain.EventMIDPaused)
}

func (s *HealthService) setMIDStatus(ctx context.Context, id, status, reason, actor, eventType string) (models.MerchantID, error) {
	prev, next, err := s.mids.SetStatus(id, status, reason)
	if err != nil {
		return models.MerchantID{}, err
	}
	actor = actorOrSystem(actor)
	observability.IncrementMIDTransition(status, reasonOrManual(reason))
	s.writeAudit(ctx, "mid", id, actor, "status_override", prev.Status, next.Status, map[string]string{"reason": reason})
	publish(ctx, s.events, eventType, MIDEvent{
		MIDID: next.ID, GatewayID: next.GatewayID, Status: next.Status, Reason: reason, Actor: actor,
	})
	return next, nil
}

// RecordChargeback counts a chargeback against a MID. The monitor acts on the new rate.
func (s *HealthService) RecordChargeback(ctx context.Context, id, actor string) (models.MerchantID, error) {
	mid, err := s.mids.RecordChargeback(id)
	if err != nil {
		return models.MerchantID{}, err
	}
	s.writeAudit(ctx, "mid", id, actor, "chargeback_recorded", mid.Status, mid.Status, map[string]string{
		"chargeback_rate": mid.Current.ChargebackRate.String(),
	})
	return mid, nil
}

// SetGatewayStatus is the operator override for a gateway.
func (s *HealthService) SetGatewayStatus(ctx context.Context, id, status, actor string) (models.Gateway, error) {
	prev, next, err := s.gateways.SetStatus(id, status)
	if err != nil {
		return models.Gateway{}, err
	}
	actor = actorOrSystem(actor)
	s.writeAudit(ctx, "gateway", id, actor, "status_override", prev.Status, next.Status, nil)

	switch {
	case prev.Status == domain.GatewayStatusActive && next.Status != domain.GatewayStatusActive:
		publish(ctx, s.events, domain.EventGatewayDown, GatewayEvent{GatewayID: id, Status: next.Status, Actor: actor})
	case prev.Status != domain.GatewayStatusActive && next.Status == domain.GatewayStatusActive:
		publish(ctx, s.events, domain.EventGatewayRestored, GatewayEvent{GatewayID: id, Status: next.Status, Actor: actor})
	}
	return next, nil
}

func (s *HealthService) Gateways() []models.Gateway {
	return s.gateways.List()
}

func (s *HealthService) MIDs() []models.MerchantID {
	return s.mids.List()
}

// writeAudit records registry changes. Registries live in memory, so a failed
// audit write is logged and does not undo the change.
func (s *HealthService) writeAudit(ctx context.Context, entityType, entityID, actor, action, prev, next string, metadata any) {
	if s.store == nil {
		return
	}
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		return s.audit.Write(ctx, q, entityType, entityID, actor, action, prev, next, metadata)
	})
	if err != nil {
		zap.L().Warn("audit write failed", zap.String("entity", fmt.Sprintf("%s/%s", entityType, entityID)), zap.Error(err))
	}
}

func reasonOrManual(reason string) string {
	if reason == "" {
		return domain.PauseReasonManual
	}
	return reason
}
