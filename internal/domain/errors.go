package domain

import "errors"

var (
	ErrNoGatewayAvailable   = errors.New("no gateway available")
	ErrGatewayExecution     = errors.New("gateway execution failed")
	ErrInvalidState         = errors.New("invalid state")
	ErrAmountOutOfRange     = errors.New("amount out of range")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrAccountNotFound      = errors.New("escrow account not found")
	ErrAccountNotActive     = errors.New("escrow account not active")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDisputeNotFound      = errors.New("dispute not found")
	ErrPayoutNotFound       = errors.New("payout not found")
	ErrPayoutMethodNotFound = errors.New("payout method not found")
	ErrGatewayNotFound      = errors.New("gateway not found")
	ErrMIDNotFound          = errors.New("merchant id not found")
	ErrRuleNotFound         = errors.New("routing rule not found")
	ErrInsufficientFunds    = errors.New("insufficient available balance")
	ErrPaymentInProgress    = errors.New("payment already in progress")
	ErrIDConflict           = errors.New("id already used by another owner")

	// ErrLedgerInvariant means an account would end up with
	// balance != held + available or a negative component.
	ErrLedgerInvariant = errors.New("escrow ledger invariant violated")
)
