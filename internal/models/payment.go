package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentRequest struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	PlatformID    string            `json:"platform_id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Region        string            `json:"region"`
	PaymentMethod string            `json:"payment_method"`
	RiskLevel     string            `json:"risk_level"`
	AdultContent  bool              `json:"adult_content"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type PaymentTransaction struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	PlatformID           string     `json:"platform_id"`
	Amount               int64      `json:"amount"`
	Currency             string     `json:"currency"`
	GatewayID            string     `json:"gateway_id"`
	MIDID                string     `json:"mid_id,omitempty"`
	RuleID               string     `json:"rule_id"`
	Status               string     `json:"status"`
	Fees                 int64      `json:"fees"`
	NetAmount            int64      `json:"net_amount"`
	GatewayTransactionID string     `json:"gateway_transaction_id,omitempty"`
	Error                string     `json:"error,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	ChargedBackAt        *time.Time `json:"charged_back_at,omitempty"`
}

type PayoutRequest struct {
	ID               uuid.UUID  `json:"id"`
	CreatorID        string     `json:"creator_id"`
	AccountID        uuid.UUID  `json:"account_id"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	MethodID         string     `json:"method_id"`
	Fee              int64      `json:"fee"`
	NetAmount        int64      `json:"net_amount"`
	Status           string     `json:"status"`
	Destination      string     `json:"destination"`
	ReferenceID      string     `json:"reference_id,omitempty"`
	ExternalPayoutID string     `json:"external_payout_id,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ClaimedAt        *time.Time `json:"-"`
}
