package routing

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"go.uber.org/zap"
)

// GatewaySource reports a gateway and whether it is currently active.
type GatewaySource interface {
	Usable(id string) (models.Gateway, bool)
}

// MIDSelector picks an active MID of a gateway for a region.
type MIDSelector interface {
	Select(gatewayID, region string) (mid models.MerchantID, ok, managed bool)
}

// Decision is the outcome of routing one payment request.
type Decision struct {
	Gateway  models.Gateway
	MID      *models.MerchantID
	RuleID   string
	Fallback bool
}

// Engine evaluates routing rules in ascending priority order.
type Engine struct {
	gateways GatewaySource
	mids     MIDSelector

	mu    sync.RWMutex
	rules []models.RoutingRule
}

func NewEngine(rules []models.RoutingRule, gateways GatewaySource, mids MIDSelector) *Engine {
	e := &Engine{gateways: gateways, mids: mids}
	for _, r := range rules {
		e.rules = append(e.rules, cloneRule(r))
	}
	e.sortRules()
	return e
}

// Route returns the gateway of the first matching rule whose target or one of its
// fallbacks is usable. A rule that matches but yields nothing does not end the scan.
func (e *Engine) Route(req models.PaymentRequest) (Decision, error) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		if !rule.Enabled || !Matches(rule.Conditions, req) {
			continue
		}
		candidates := append([]string{rule.TargetGateway}, rule.Fallbacks...)
		for i, id := range candidates {
			gw, mid, ok := e.usable(id, req)
			if !ok {
				continue
			}
			d := Decision{Gateway: gw, MID: mid, RuleID: rule.ID, Fallback: i > 0}
			if d.Fallback {
				observability.IncrementRoutingFallback(rule.ID)
				zap.L().Info("routed to fallback gateway",
					zap.String("payment_id", req.ID),
					zap.String("rule_id", rule.ID),
					zap.String("target", rule.TargetGateway),
					zap.String("gateway", gw.ID),
				)
			}
			return d, nil
		}
		zap.L().Debug("rule matched without usable gateway",
			zap.String("payment_id", req.ID),
			zap.String("rule_id", rule.ID),
		)
	}

	observability.IncrementRoutingFailure()
	return Decision{}, fmt.Errorf("payment %s region %s: %w", req.ID, req.Region, domain.ErrNoGatewayAvailable)
}

func (e *Engine) usable(id string, req models.PaymentRequest) (models.Gateway, *models.MerchantID, bool) {
	gw, active := e.gateways.Usable(id)
	if !active {
		return models.Gateway{}, nil, false
	}
	if !gw.ServesRegion(req.Region) {
		return models.Gateway{}, nil, false
	}
	// limits are not converted; they only bound payments in their own currency
	if gw.DenominatedIn(req.Currency) && (!gw.AcceptsAmount(req.Amount) || !gw.HasDailyCapacity(req.Amount)) {
		return models.Gateway{}, nil, false
	}
	if req.AdultContent && !gw.AdultEligible {
		return models.Gateway{}, nil, false
	}
	if e.mids == nil {
		return gw, nil, true
	}
	mid, ok, managed := e.mids.Select(gw.ID, req.Region)
	if !managed {
		return gw, nil, true
	}
	if !ok {
		return models.Gateway{}, nil, false
	}
	return gw, &mid, true
}

// Matches reports whether every present condition holds for req.
func Matches(c models.RuleConditions, req models.PaymentRequest) bool {
	if len(c.Regions) > 0 && !slices.Contains(c.Regions, req.Region) {
		return false
	}
	if c.MinAmount != nil && req.Amount < *c.MinAmount {
		return false
	}
	if c.MaxAmount != nil && req.Amount > *c.MaxAmount {
		return false
	}
	if len(c.PaymentMethods) > 0 && !slices.Contains(c.PaymentMethods, req.PaymentMethod) {
		return false
	}
	if len(c.Platforms) > 0 && !slices.Contains(c.Platforms, req.PlatformID) {
		return false
	}
	if len(c.RiskLevels) > 0 && !slices.Contains(c.RiskLevels, req.RiskLevel) {
		return false
	}
	return true
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []models.RoutingRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.RoutingRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, cloneRule(r))
	}
	return out
}

// AddRule registers a new rule. Rule ids are unique.
func (e *Engine) AddRule(rule models.RoutingRule) error {
	if rule.ID == "" || rule.TargetGateway == "" {
		return fmt.Errorf("rule requires id and target gateway: %w", domain.ErrInvalidRequest)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.ID == rule.ID {
			return fmt.Errorf("rule %s already exists: %w", rule.ID, domain.ErrInvalidRequest)
		}
	}
	e.rules = append(slices.Clone(e.rules), cloneRule(rule))
	e.sortRules()
	return nil
}

// UpdateRule applies a partial patch to the rule with the given id.
func (e *Engine) UpdateRule(id string, patch models.RulePatch) (models.RoutingRule, error) {
	if patch.TargetGateway != nil && *patch.TargetGateway == "" {
		return models.RoutingRule{}, fmt.Errorf("target gateway must not be empty: %w", domain.ErrInvalidRequest)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	idx := slices.IndexFunc(e.rules, func(r models.RoutingRule) bool { return r.ID == id })
	if idx < 0 {
		return models.RoutingRule{}, fmt.Errorf("%s: %w", id, domain.ErrRuleNotFound)
	}

	rule := cloneRule(e.rules[idx])
	if patch.Priority != nil {
		rule.Priority = *patch.Priority
	}
	if patch.Conditions != nil {
		rule.Conditions = cloneConditions(*patch.Conditions)
	}
	if patch.TargetGateway != nil {
		rule.TargetGateway = *patch.TargetGateway
	}
	if patch.Fallbacks != nil {
		rule.Fallbacks = slices.Clone(*patch.Fallbacks)
	}
	if patch.Enabled != nil {
		rule.Enabled = *patch.Enabled
	}

	// Route reads the slice without the lock held, so writers replace it.
	rules := slices.Clone(e.rules)
	rules[idx] = rule
	e.rules = rules
	e.sortRules()
	return cloneRule(rule), nil
}

func (e *Engine) sortRules() {
	sort.SliceStable(e.rules, func(i, j int) bool {
		if e.rules[i].Priority != e.rules[j].Priority {
			return e.rules[i].Priority < e.rules[j].Priority
		}
		return e.rules[i].ID < e.rules[j].ID
	})
}

func cloneRule(r models.RoutingRule) models.RoutingRule {
	r.Conditions = cloneConditions(r.Conditions)
	r.Fallbacks = slices.Clone(r.Fallbacks)
	return r
}

func cloneConditions(c models.RuleConditions) models.RuleConditions {
	c.Regions = slices.Clone(c.Regions)
	c.PaymentMethods = slices.Clone(c.PaymentMethods)
	c.Platforms = slices.Clone(c.Platforms)
	c.RiskLevels = slices.Clone(c.RiskLevels)
	if c.MinAmount != nil {
		v := *c.MinAmount
		c.MinAmount = &v
	}
	if c.MaxAmount != nil {
		v := *c.MaxAmount
		c.MaxAmount = &v
	}
	return c
}
