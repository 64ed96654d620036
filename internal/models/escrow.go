package models

import (
	"time"

	"github.com/google/uuid"
)

type EscrowAccount struct {
	ID              uuid.UUID `json:"id"`
	UserID          string    `json:"user_id"`
	Role            string    `json:"role"`
	Balance         int64     `json:"balance"`
	HeldBalance     int64     `json:"held_balance"`
	Available       int64     `json:"available_balance"`
	PendingReleases int       `json:"pending_releases"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Balanced reports whether balance == held + available with no negative component.
func (a EscrowAccount) Balanced() bool {
	if a.Balance < 0 || a.HeldBalance < 0 || a.Available < 0 || a.PendingReleases < 0 {
		return false
	}
	return a.Balance == a.HeldBalance+a.Available
}

type EscrowTransaction struct {
	ID             uuid.UUID  `json:"id"`
	AccountID      uuid.UUID  `json:"account_id"`
	FromUserID     string     `json:"from_user_id"`
	ToUserID       string     `json:"to_user_id"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	HoldDays       int        `json:"hold_days"`
	AutoRelease    bool       `json:"auto_release"`
	ReleaseDate    time.Time  `json:"release_date"`
	ReleasedAt     *time.Time `json:"released_at,omitempty"`
	RefundedAmount int64      `json:"refunded_amount"`
	DisputeID      *uuid.UUID `json:"dispute_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type EscrowDispute struct {
	ID               uuid.UUID  `json:"id"`
	TransactionID    uuid.UUID  `json:"transaction_id"`
	InitiatedBy      string     `json:"initiated_by"`
	Reason           string     `json:"reason"`
	Evidence         []string   `json:"evidence"`
	Status           string     `json:"status"`
	Resolution       string     `json:"resolution,omitempty"`
	ResolutionAmount int64      `json:"resolution_amount,omitempty"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// EscrowRelease is written once per balance movement out of hold and never updated.
type EscrowRelease struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	AccountID     uuid.UUID `json:"account_id"`
	Amount        int64     `json:"amount"`
	Type          string    `json:"type"`
	Actor         string    `json:"actor"`
	PayoutMethod  string    `json:"payout_method,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
