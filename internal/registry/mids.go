package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/zoobzio/clockz"
)

const monthLayout = "2006-01"

// MIDRegistry tracks per-merchant-ID counters and status.
type MIDRegistry struct {
	clock clockz.Clock

	mu        sync.RWMutex
	mids      map[string]*models.MerchantID
	order     []string
	byGateway map[string][]string
}

func NewMIDRegistry(mids []models.MerchantID, clock clockz.Clock) *MIDRegistry {
	if clock == nil {
		clock = clockz.RealClock
	}
	r := &MIDRegistry{
		clock:     clock,
		mids:      make(map[string]*models.MerchantID, len(mids)),
		byGateway: make(map[string][]string),
	}
	now := clock.Now().UTC()
	for i := range mids {
		m := mids[i]
		if m.Current.VolumeDay == "" {
			m.Current.VolumeDay = now.Format(dayLayout)
		}
		if m.Current.VolumeMonth == "" {
			m.Current.VolumeMonth = now.Format(monthLayout)
		}
		m.UpdatedAt = now
		r.mids[m.ID] = &m
		r.order = append(r.order, m.ID)
		r.byGateway[m.GatewayID] = append(r.byGateway[m.GatewayID], m.ID)
	}
	sort.Strings(r.order)
	for gw := range r.byGateway {
		sort.Strings(r.byGateway[gw])
	}
	return r
}

func (r *MIDRegistry) Get(id string) (models.MerchantID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mids[id]
	if !ok {
		return models.MerchantID{}, fmt.Errorf("%s: %w", id, domain.ErrMIDNotFound)
	}
	return *m, nil
}

// List returns every MID ordered by id.
func (r *MIDRegistry) List() []models.MerchantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.MerchantID, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.mids[id])
	}
	return out
}

// Select returns the first active MID of gateway for region. managed is false when
// the gateway has no MIDs registered at all, in which case it routes without one.
func (r *MIDRegistry) Select(gatewayID, region string) (mid models.MerchantID, ok, managed bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byGateway[gatewayID]
	if len(ids) == 0 {
		return models.MerchantID{}, false, false
	}
	for _, id := range ids {
		m := r.mids[id]
		if m.Region == region && m.Status == domain.MIDStatusActive {
			return *m, true, true
		}
	}
	return models.MerchantID{}, false, true
}

// RecordOutcome counts a payment attempt. Approved amounts add to daily and monthly volume.
func (r *MIDRegistry) RecordOutcome(id string, amount int64, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mids[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, domain.ErrMIDNotFound)
	}
	r.roll(m)
	c := &m.Current
	c.Transactions++
	if approved {
		c.Approvals++
		c.Volume += amount
		c.MonthlyVolume += amount
	}
	c.ApprovalRate = domain.Rate(c.Approvals, c.Transactions)
	c.ChargebackRate = domain.Rate(c.Chargebacks, c.Approvals)
	m.UpdatedAt = r.clock.Now().UTC()
	return nil
}

// RecordChargeback counts a chargeback against an approved payment.
func (r *MIDRegistry) RecordChargeback(id string) (models.MerchantID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mids[id]
	if !ok {
		return models.MerchantID{}, fmt.Errorf("%s: %w", id, domain.ErrMIDNotFound)
	}
	c := &m.Current
	c.Chargebacks++
	approvals := c.Approvals
	if approvals < c.Chargebacks {
		approvals = c.Chargebacks
	}
	c.ChargebackRate = domain.Rate(c.Chargebacks, approvals)
	m.UpdatedAt = r.clock.Now().UTC()
	return *m, nil
}

// Roll starts a new volume period for every MID whose day or month has ended.
func (r *MIDRegistry) Roll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mids {
		r.roll(m)
	}
}

func (r *MIDRegistry) roll(m *models.MerchantID) {
	now := r.clock.Now().UTC()
	if day := now.Format(dayLayout); m.Current.VolumeDay != day {
		m.Current.VolumeDay = day
		m.Current.Volume = 0
	}
	if month := now.Format(monthLayout); m.Current.VolumeMonth != month {
		m.Current.VolumeMonth = month
		m.Current.MonthlyVolume = 0
	}
}

// CompareAndSetStatus moves a MID from one status to another and reports whether it did.
func (r *MIDRegistry) CompareAndSetStatus(id, from, to, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mids[id]
	if !ok {
		return false, fmt.Errorf("%s: %w", id, domain.ErrMIDNotFound)
	}
	if m.Status != from {
		return false, nil
	}
	r.setStatus(m, to, reason)
	return true, nil
}

// SetStatus applies a manual override regardless of the current status.
func (r *MIDRegistry) SetStatus(id, status, reason string) (prev, next models.MerchantID, err error) {
	switch status {
	case domain.MIDStatusActive, domain.MIDStatusPaused, domain.MIDStatusSuspended:
	default:
		return prev, next, fmt.Errorf("mid status %q: %w", status, domain.ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mids[id]
	if !ok {
		return prev, next, fmt.Errorf("%s: %w", id, domain.ErrMIDNotFound)
	}
	prev = *m
	r.setStatus(m, status, reason)
	return prev, *m, nil
}

func (r *MIDRegistry) setStatus(m *models.MerchantID, status, reason string) {
	m.Status = status
	m.PauseReason = ""
	if status != domain.MIDStatusActive {
		m.PauseReason = reason
	}
	m.UpdatedAt = r.clock.Now().UTC()
}
