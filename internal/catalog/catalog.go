package catalog

import (
	"errors"
	"fmt"
	"os"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Catalog is the seed data the registries and the routing engine start from.
type Catalog struct {
	Gateways      []models.Gateway
	MIDs          []models.MerchantID
	Rules         []models.RoutingRule
	PayoutMethods []models.PayoutMethod
}

type file struct {
	Gateways      []gatewayFile      `yaml:"gateways"`
	MIDs          []midFile          `yaml:"mids"`
	Rules         []ruleFile         `yaml:"routing_rules"`
	PayoutMethods []payoutMethodFile `yaml:"payout_methods"`
}

// Amounts in catalog files are decimal strings in currency units ("250.00").
type gatewayFile struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Category      string   `yaml:"category"`
	Regions       []string `yaml:"regions"`
	AdultEligible bool     `yaml:"adult_eligible"`
	Fees          struct {
		Percentage string `yaml:"percentage"`
		Fixed      string `yaml:"fixed"`
		Currency   string `yaml:"currency"`
	} `yaml:"fees"`
	Limits struct {
		Min   string `yaml:"min"`
		Max   string `yaml:"max"`
		Daily string `yaml:"daily"`
	} `yaml:"limits"`
	Status      string `yaml:"status"`
	HealthURL   string `yaml:"health_url"`
	Endpoint    string `yaml:"endpoint"`
	SuccessRate string `yaml:"success_rate"`
}

type midFile struct {
	ID         string `yaml:"id"`
	GatewayID  string `yaml:"gateway_id"`
	Region     string `yaml:"region"`
	Descriptor string `yaml:"descriptor"`
	Status     string `yaml:"status"`
	Limits     struct {
		Daily               string `yaml:"daily"`
		Monthly             string `yaml:"monthly"`
		ChargebackThreshold string `yaml:"chargeback_threshold"`
	} `yaml:"limits"`
}

type ruleFile struct {
	ID         string `yaml:"id"`
	Priority   int    `yaml:"priority"`
	Conditions struct {
		Regions        []string `yaml:"regions"`
		MinAmount      string   `yaml:"min_amount"`
		MaxAmount      string   `yaml:"max_amount"`
		PaymentMethods []string `yaml:"payment_methods"`
		Platforms      []string `yaml:"platforms"`
		RiskLevels     []string `yaml:"risk_levels"`
	} `yaml:"conditions"`
	Target    string   `yaml:"target"`
	Fallbacks []string `yaml:"fallbacks"`
	Enabled   *bool    `yaml:"enabled"`
}

type payoutMethodFile struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Min            string `yaml:"min"`
	Max            string `yaml:"max"`
	FeePercentage  string `yaml:"fee_percentage"`
	FixedFee       string `yaml:"fixed_fee"`
	Currency       string `yaml:"currency"`
	ProcessingTime string `yaml:"processing_time"`
	Enabled        *bool  `yaml:"enabled"`
}

// Load reads a YAML catalog from path. An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{}
	for _, g := range f.Gateways {
		gw, err := g.model()
		if err != nil {
			return nil, fmt.Errorf("gateway %q: %w", g.ID, err)
		}
		c.Gateways = append(c.Gateways, gw)
	}
	for _, m := range f.MIDs {
		mid, err := m.model()
		if err != nil {
			return nil, fmt.Errorf("mid %q: %w", m.ID, err)
		}
		c.MIDs = append(c.MIDs, mid)
	}
	for _, r := range f.Rules {
		rule, err := r.model()
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		c.Rules = append(c.Rules, rule)
	}
	for _, p := range f.PayoutMethods {
		method, err := p.model()
		if err != nil {
			return nil, fmt.Errorf("payout method %q: %w", p.ID, err)
		}
		c.PayoutMethods = append(c.PayoutMethods, method)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks identifiers are unique and every reference resolves to a known gateway.
func (c *Catalog) Validate() error {
	var errs []error

	gateways := make(map[string]struct{}, len(c.Gateways))
	for _, g := range c.Gateways {
		if g.ID == "" {
			errs = append(errs, errors.New("gateway without id"))
			continue
		}
		if _, dup := gateways[g.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate gateway %q", g.ID))
		}
		gateways[g.ID] = struct{}{}
		if !validGatewayStatus(g.Status) {
			errs = append(errs, fmt.Errorf("gateway %q: unknown status %q", g.ID, g.Status))
		}
		if g.Limits.Max > 0 && g.Limits.Min > g.Limits.Max {
			errs = append(errs, fmt.Errorf("gateway %q: min limit above max", g.ID))
		}
	}

	mids := make(map[string]struct{}, len(c.MIDs))
	for _, m := range c.MIDs {
		if _, dup := mids[m.ID]; dup || m.ID == "" {
			errs = append(errs, fmt.Errorf("duplicate or empty mid %q", m.ID))
		}
		mids[m.ID] = struct{}{}
		if _, ok := gateways[m.GatewayID]; !ok {
			errs = append(errs, fmt.Errorf("mid %q: unknown gateway %q", m.ID, m.GatewayID))
		}
	}

	rules := make(map[string]struct{}, len(c.Rules))
	for _, r := range c.Rules {
		if _, dup := rules[r.ID]; dup || r.ID == "" {
			errs = append(errs, fmt.Errorf("duplicate or empty rule %q", r.ID))
		}
		rules[r.ID] = struct{}{}
		for _, target := range append([]string{r.TargetGateway}, r.Fallbacks...) {
			if _, ok := gateways[target]; !ok {
				errs = append(errs, fmt.Errorf("rule %q: unknown gateway %q", r.ID, target))
			}
		}
		cond := r.Conditions
		if cond.MinAmount != nil && cond.MaxAmount != nil && *cond.MinAmount > *cond.MaxAmount {
			errs = append(errs, fmt.Errorf("rule %q: min_amount above max_amount", r.ID))
		}
	}

	methods := make(map[string]struct{}, len(c.PayoutMethods))
	for _, p := range c.PayoutMethods {
		if _, dup := methods[p.ID]; dup || p.ID == "" {
			errs = append(errs, fmt.Errorf("duplicate or empty payout method %q", p.ID))
		}
		methods[p.ID] = struct{}{}
		if p.Max > 0 && p.Min > p.Max {
			errs = append(errs, fmt.Errorf("payout method %q: min above max", p.ID))
		}
	}

	return errors.Join(errs...)
}

// Summary returns one "kind: count" line per entity kind.
func (c *Catalog) Summary() []string {
	return []string{
		fmt.Sprintf("gateways: %d", len(c.Gateways)),
		fmt.Sprintf("mids: %d", len(c.MIDs)),
		fmt.Sprintf("routing_rules: %d", len(c.Rules)),
		fmt.Sprintf("payout_methods: %d", len(c.PayoutMethods)),
	}
}

func validGatewayStatus(status string) bool {
	switch status {
	case domain.GatewayStatusActive, domain.GatewayStatusMaintenance, domain.GatewayStatusDisabled:
		return true
	}
	return false
}

func (g gatewayFile) model() (models.Gateway, error) {
	pct, err := parseDecimal(g.Fees.Percentage)
	if err != nil {
		return models.Gateway{}, fmt.Errorf("fees.percentage: %w", err)
	}
	fixed, err := parseMicros(g.Fees.Fixed)
	if err != nil {
		return models.Gateway{}, fmt.Errorf("fees.fixed: %w", err)
	}
	lo, err := parseMicros(g.Limits.Min)
	if err != nil {
		return models.Gateway{}, fmt.Errorf("limits.min: %w", err)
	}
	hi, err := parseMicros(g.Limits.Max)
	if err != nil {
		return models.Gateway{}, fmt.Errorf("limits.max: %w", err)
	}
	daily, err := parseMicros(g.Limits.Daily)
	if err != nil {
		return models.Gateway{}, fmt.Errorf("limits.daily: %w", err)
	}
	rate := decimal.NewFromInt(1)
	if g.SuccessRate != "" {
		if rate, err = decimal.NewFromString(g.SuccessRate); err != nil {
			return models.Gateway{}, fmt.Errorf("success_rate: %w", err)
		}
	}
	status := g.Status
	if status == "" {
		status = domain.GatewayStatusActive
	}
	currency := g.Fees.Currency
	if currency == "" {
		currency = "USD"
	}
	return models.Gateway{
		ID:            g.ID,
		Name:          g.Name,
		Category:      g.Category,
		Regions:       g.Regions,
		AdultEligible: g.AdultEligible,
		Fees:          models.FeeSchedule{Percentage: pct, Fixed: fixed, Currency: currency},
		Limits:        models.GatewayLimits{Min: lo, Max: hi, Daily: daily},
		Status:        status,
		HealthURL:     g.HealthURL,
		Endpoint:      g.Endpoint,
		SuccessRate:   rate,
	}, nil
}

func (m midFile) model() (models.MerchantID, error) {
	daily, err := parseMicros(m.Limits.Daily)
	if err != nil {
		return models.MerchantID{}, fmt.Errorf("limits.daily: %w", err)
	}
	monthly, err := parseMicros(m.Limits.Monthly)
	if err != nil {
		return models.MerchantID{}, fmt.Errorf("limits.monthly: %w", err)
	}
	threshold, err := parseDecimal(m.Limits.ChargebackThreshold)
	if err != nil {
		return models.MerchantID{}, fmt.Errorf("limits.chargeback_threshold: %w", err)
	}
	status := m.Status
	if status == "" {
		status = domain.MIDStatusActive
	}
	return models.MerchantID{
		ID:         m.ID,
		GatewayID:  m.GatewayID,
		Region:     m.Region,
		Descriptor: m.Descriptor,
		Status:     status,
		Limits:     models.MIDLimits{Daily: daily, Monthly: monthly, ChargebackThreshold: threshold},
	}, nil
}

func (r ruleFile) model() (models.RoutingRule, error) {
	cond := models.RuleConditions{
		Regions:        r.Conditions.Regions,
		PaymentMethods: r.Conditions.PaymentMethods,
		Platforms:      r.Conditions.Platforms,
		RiskLevels:     r.Conditions.RiskLevels,
	}
	if r.Conditions.MinAmount != "" {
		v, err := parseMicros(r.Conditions.MinAmount)
		if err != nil {
			return models.RoutingRule{}, fmt.Errorf("conditions.min_amount: %w", err)
		}
		cond.MinAmount = &v
	}
	if r.Conditions.MaxAmount != "" {
		v, err := parseMicros(r.Conditions.MaxAmount)
		if err != nil {
			return models.RoutingRule{}, fmt.Errorf("conditions.max_amount: %w", err)
		}
		cond.MaxAmount = &v
	}
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return models.RoutingRule{
		ID:            r.ID,
		Priority:      r.Priority,
		Conditions:    cond,
		TargetGateway: r.Target,
		Fallbacks:     r.Fallbacks,
		Enabled:       enabled,
	}, nil
}

func (p payoutMethodFile) model() (models.PayoutMethod, error) {
	lo, err := parseMicros(p.Min)
	if err != nil {
		return models.PayoutMethod{}, fmt.Errorf("min: %w", err)
	}
	hi, err := parseMicros(p.Max)
	if err != nil {
		return models.PayoutMethod{}, fmt.Errorf("max: %w", err)
	}
	pct, err := parseDecimal(p.FeePercentage)
	if err != nil {
		return models.PayoutMethod{}, fmt.Errorf("fee_percentage: %w", err)
	}
	fixed, err := parseMicros(p.FixedFee)
	if err != nil {
		return models.PayoutMethod{}, fmt.Errorf("fixed_fee: %w", err)
	}
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}
	return models.PayoutMethod{
		ID:             p.ID,
		Name:           p.Name,
		Min:            lo,
		Max:            hi,
		FeePercentage:  pct,
		FixedFee:       fixed,
		Currency:       currency,
		ProcessingTime: p.ProcessingTime,
		Enabled:        enabled,
	}, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative value %s", s)
	}
	return d, nil
}

func parseMicros(s string) (int64, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return 0, err
	}
	return domain.FromDecimal(d), nil
}
