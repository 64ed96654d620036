package gateway

import (
	"context"
	"errors"

	"github.com/ayo6706/payment-orchestrator/internal/models"
)

// ErrDeclined is returned by executors when the processor refused the charge or payout.
var ErrDeclined = errors.New("declined by processor")

// ChargeRequest is what a gateway needs to execute one payment.
type ChargeRequest struct {
	PaymentID  string `json:"payment_id"`
	UserID     string `json:"user_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	MIDID      string `json:"mid_id,omitempty"`
	Descriptor string `json:"descriptor,omitempty"`
}

// Result is the gateway's answer to a charge.
type Result struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Executor is the payment execution boundary.
type Executor interface {
	Execute(ctx context.Context, gw models.Gateway, req ChargeRequest) (Result, error)
}

// PayoutInstruction moves net funds to a creator's destination.
type PayoutInstruction struct {
	Reference   string `json:"reference"`
	MethodID    string `json:"method"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
}

type PayoutResult struct {
	PayoutID string `json:"payout_id"`
	Status   string `json:"status"`
}

// PayoutExecutor is the payout execution boundary. A returned error means the
// payout did not leave the platform.
type PayoutExecutor interface {
	Execute(ctx context.Context, in PayoutInstruction) (PayoutResult, error)
}

// Prober checks whether a gateway is reachable. Any error marks it unhealthy.
type Prober interface {
	Probe(ctx context.Context, gw models.Gateway) error
}
