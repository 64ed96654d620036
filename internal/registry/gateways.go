package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"github.com/zoobzio/clockz"
)

const dayLayout = "2006-01-02"

// GatewayRegistry holds the gateway catalog and its operational status.
// Readers get copies; every status write is a compare-and-set on one gateway.
type GatewayRegistry struct {
	clock clockz.Clock

	mu       sync.RWMutex
	gateways map[string]*models.Gateway
	order    []string
}

func NewGatewayRegistry(gateways []models.Gateway, clock clockz.Clock) *GatewayRegistry {
	if clock == nil {
		clock = clockz.RealClock
	}
	r := &GatewayRegistry{
		clock:    clock,
		gateways: make(map[string]*models.Gateway, len(gateways)),
	}
	now := clock.Now().UTC()
	for i := range gateways {
		g := cloneGateway(gateways[i])
		g.UpdatedAt = now
		r.gateways[g.ID] = &g
		r.order = append(r.order, g.ID)
		observability.SetGatewayActive(g.ID, g.Status == domain.GatewayStatusActive)
	}
	sort.Strings(r.order)
	return r
}

func (r *GatewayRegistry) Get(id string) (models.Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[id]
	if !ok {
		return models.Gateway{}, fmt.Errorf("%s: %w", id, domain.ErrGatewayNotFound)
	}
	return cloneGateway(*g), nil
}

// List returns every gateway ordered by id.
func (r *GatewayRegistry) List() []models.Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Gateway, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneGateway(*r.gateways[id]))
	}
	return out
}

// CompareAndSetStatus moves a gateway from one status to another. It reports false
// when the current status is not from or the gateway is pinned by a manual override.
func (r *GatewayRegistry) CompareAndSetStatus(id, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gateways[id]
	if !ok {
		return false, fmt.Errorf("%s: %w", id, domain.ErrGatewayNotFound)
	}
	if g.Pinned || g.Status != from {
		return false, nil
	}
	g.Status = to
	g.UpdatedAt = r.clock.Now().UTC()
	observability.SetGatewayActive(id, to == domain.GatewayStatusActive)
	return true, nil
}

// SetStatus is the manual override. Any status other than active pins the gateway
// so the health monitor leaves it alone; active hands it back to the monitor.
func (r *GatewayRegistry) SetStatus(id, status string) (prev, next models.Gateway, err error) {
	switch status {
	case domain.GatewayStatusActive, domain.GatewayStatusMaintenance, domain.GatewayStatusDisabled:
	default:
		return prev, next, fmt.Errorf("gateway status %q: %w", status, domain.ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gateways[id]
	if !ok {
		return prev, next, fmt.Errorf("%s: %w", id, domain.ErrGatewayNotFound)
	}
	prev = cloneGateway(*g)
	g.Status = status
	g.Pinned = status != domain.GatewayStatusActive
	g.UpdatedAt = r.clock.Now().UTC()
	observability.SetGatewayActive(id, status == domain.GatewayStatusActive)
	return prev, cloneGateway(*g), nil
}

// RecordVolume adds an approved amount to the gateway's daily volume,
// starting a new day when the UTC date changed. Amounts in a currency other
// than the gateway's are not counted.
func (r *GatewayRegistry) RecordVolume(id, currency string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gateways[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, domain.ErrGatewayNotFound)
	}
	if !g.DenominatedIn(currency) {
		return nil
	}
	day := r.clock.Now().UTC().Format(dayLayout)
	if g.VolumeDay != day {
		g.VolumeDay = day
		g.DailyVolume = 0
	}
	g.DailyVolume += amount
	return nil
}

// Usable reads the current day's view of the gateway: volume from a previous
// day does not count against today's limit.
func (r *GatewayRegistry) Usable(id string) (models.Gateway, bool) {
	g, err := r.Get(id)
	if err != nil {
		return models.Gateway{}, false
	}
	if g.VolumeDay != r.clock.Now().UTC().Format(dayLayout) {
		g.DailyVolume = 0
	}
	return g, g.Status == domain.GatewayStatusActive
}

func cloneGateway(g models.Gateway) models.Gateway {
	g.Regions = append([]string(nil), g.Regions...)
	return g
}
