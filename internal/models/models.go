package models

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type FeeSchedule struct {
	Percentage decimal.Decimal `json:"percentage"`
	Fixed      int64           `json:"fixed"`
	Currency   string          `json:"currency"`
}

// GatewayLimits are in micros; zero means unbounded.
type GatewayLimits struct {
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
	Daily int64 `json:"daily"`
}

type Gateway struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Regions       []string        `json:"regions"`
	AdultEligible bool            `json:"adult_eligible"`
	Fees          FeeSchedule     `json:"fees"`
	Limits        GatewayLimits   `json:"limits"`
	Status        string          `json:"status"`
	HealthURL     string          `json:"health_url,omitempty"`
	Endpoint      string          `json:"endpoint,omitempty"`
	SuccessRate   decimal.Decimal `json:"-"`
	Pinned        bool            `json:"pinned"`
	DailyVolume   int64           `json:"daily_volume"`
	VolumeDay     string          `json:"volume_day,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ServesRegion reports whether the gateway accepts traffic for region.
// A gateway without a region list serves every region.
func (g Gateway) ServesRegion(region string) bool {
	if len(g.Regions) == 0 {
		return true
	}
	return slices.Contains(g.Regions, region)
}

// DenominatedIn reports whether the gateway's limits are expressed in currency.
// Limits carry the fee schedule's currency; an unset currency matches any.
func (g Gateway) DenominatedIn(currency string) bool {
	return g.Fees.Currency == "" || strings.EqualFold(g.Fees.Currency, currency)
}

// AcceptsAmount reports whether amount lies within the per-transaction limits.
func (g Gateway) AcceptsAmount(amount int64) bool {
	if g.Limits.Min > 0 && amount < g.Limits.Min {
		return false
	}
	if g.Limits.Max > 0 && amount > g.Limits.Max {
		return false
	}
	return true
}

// HasDailyCapacity reports whether amount fits in what is left of the daily limit.
func (g Gateway) HasDailyCapacity(amount int64) bool {
	return g.Limits.Daily <= 0 || g.DailyVolume+amount <= g.Limits.Daily
}

type MIDLimits struct {
	Daily               int64           `json:"daily"`
	Monthly             int64           `json:"monthly"`
	ChargebackThreshold decimal.Decimal `json:"chargeback_threshold"`
}

type MIDCounters struct {
	Volume         int64           `json:"volume"`
	MonthlyVolume  int64           `json:"monthly_volume"`
	ChargebackRate decimal.Decimal `json:"chargeback_rate"`
	ApprovalRate   decimal.Decimal `json:"approval_rate"`
	Transactions   int64           `json:"transactions"`
	Approvals      int64           `json:"approvals"`
	Chargebacks    int64           `json:"chargebacks"`
	VolumeDay      string          `json:"volume_day"`
	VolumeMonth    string          `json:"volume_month"`
}

type MerchantID struct {
	ID          string      `json:"id"`
	GatewayID   string      `json:"gateway_id"`
	Region      string      `json:"region"`
	Descriptor  string      `json:"descriptor"`
	Status      string      `json:"status"`
	PauseReason string      `json:"pause_reason,omitempty"`
	Limits      MIDLimits   `json:"limits"`
	Current     MIDCounters `json:"current"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type RuleConditions struct {
	Regions        []string `json:"regions,omitempty"`
	MinAmount      *int64   `json:"min_amount,omitempty"`
	MaxAmount      *int64   `json:"max_amount,omitempty"`
	PaymentMethods []string `json:"payment_methods,omitempty"`
	Platforms      []string `json:"platforms,omitempty"`
	RiskLevels     []string `json:"risk_levels,omitempty"`
}

type RoutingRule struct {
	ID            string         `json:"id"`
	Priority      int            `json:"priority"`
	Conditions    RuleConditions `json:"conditions"`
	TargetGateway string         `json:"target_gateway"`
	Fallbacks     []string       `json:"fallbacks"`
	Enabled       bool           `json:"enabled"`
}

// RulePatch carries a partial routing rule update. Nil fields are left unchanged.
type RulePatch struct {
	Priority      *int            `json:"priority,omitempty"`
	Conditions    *RuleConditions `json:"conditions,omitempty"`
	TargetGateway *string         `json:"target_gateway,omitempty"`
	Fallbacks     *[]string       `json:"fallbacks,omitempty"`
	Enabled       *bool           `json:"enabled,omitempty"`
}

type PayoutMethod struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Min            int64           `json:"min"`
	Max            int64           `json:"max"`
	FeePercentage  decimal.Decimal `json:"fee_percentage"`
	FixedFee       int64           `json:"fixed_fee"`
	Currency       string          `json:"currency"`
	ProcessingTime string          `json:"processing_time"`
	Enabled        bool            `json:"enabled"`
}

// AuditEntry is an immutable record of a state change.
type AuditEntry struct {
	EntityType string
	EntityID   string
	Actor      string
	Action     string
	PrevState  string
	NextState  string
	Metadata   []byte
	CreatedAt  time.Time
}

