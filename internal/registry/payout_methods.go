package registry

import (
	"fmt"
	"sort"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/models"
)

// PayoutMethods is the read-only payout method catalog.
type PayoutMethods struct {
	methods map[string]models.PayoutMethod
	order   []string
}

func NewPayoutMethods(methods []models.PayoutMethod) *PayoutMethods {
	p := &PayoutMethods{methods: make(map[string]models.PayoutMethod, len(methods))}
	for _, m := range methods {
		p.methods[m.ID] = m
		p.order = append(p.order, m.ID)
	}
	sort.Strings(p.order)
	return p
}

// Get returns an enabled payout method.
func (p *PayoutMethods) Get(id string) (models.PayoutMethod, error) {
	m, ok := p.methods[id]
	if !ok || !m.Enabled {
		return models.PayoutMethod{}, fmt.Errorf("%s: %w", id, domain.ErrPayoutMethodNotFound)
	}
	return m, nil
}

// List returns the enabled payout methods ordered by id.
func (p *PayoutMethods) List() []models.PayoutMethod {
	out := make([]models.PayoutMethod, 0, len(p.order))
	for _, id := range p.order {
		if m := p.methods[id]; m.Enabled {
			out = append(out, m)
		}
	}
	return out
}
