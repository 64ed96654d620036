package domain

const (
	SystemActor = "system"

	// Gateway categories
	GatewayCategoryCard   = "card"
	GatewayCategoryBank   = "bank"
	GatewayCategoryCrypto = "crypto"
	GatewayCategoryWallet = "wallet"
	GatewayCategoryLocal  = "local"

	GatewayStatusActive      = "active"
	GatewayStatusMaintenance = "maintenance"
	GatewayStatusDisabled    = "disabled"

	MIDStatusActive    = "active"
	MIDStatusPaused    = "paused"
	MIDStatusSuspended = "suspended"

	// MID pause reasons
	PauseReasonChargebackThreshold = "chargeback_threshold"
	PauseReasonDailyLimit          = "daily_limit"
	PauseReasonMonthlyLimit        = "monthly_limit"
	PauseReasonManual              = "manual"

	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"

	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"

	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"

	// Escrow account roles
	RoleCreator  = "creator"
	RoleFan      = "fan"
	RolePlatform = "platform"

	AccountStatusActive = "active"
	AccountStatusFrozen = "frozen"
	AccountStatusClosed = "closed"

	EscrowTxTypeHold    = "hold"
	EscrowTxTypeRelease = "release"
	EscrowTxTypeRefund  = "refund"
	EscrowTxTypeDispute = "dispute"

	EscrowStatusPending   = "pending"
	EscrowStatusHeld      = "held"
	EscrowStatusReleased  = "released"
	EscrowStatusRefunded  = "refunded"
	EscrowStatusDisputed  = "disputed"
	EscrowStatusCancelled = "cancelled"

	ReleaseTypeAutomatic         = "automatic"
	ReleaseTypeManual            = "manual"
	ReleaseTypeDisputeResolution = "dispute_resolution"
	ReleaseTypeRefund            = "refund"

	DisputeStatusOpen          = "open"
	DisputeStatusInvestigating = "investigating"
	DisputeStatusResolved      = "resolved"
	DisputeStatusEscalated     = "escalated"

	ResolutionRefund        = "refund"
	ResolutionRelease       = "release"
	ResolutionPartialRefund = "partial_refund"

	DefaultHoldDays = 7
	MaxHoldDays     = 365
)

// Event topics published on the event bus.
const (
	EventPaymentProcessed     = "payment:processed"
	EventPaymentFailed        = "payment:failed"
	EventPayoutCompleted      = "payout:completed"
	EventPayoutFailed         = "payout:failed"
	EventMIDPaused            = "mid:paused"
	EventMIDResumed           = "mid:resumed"
	EventGatewayDown          = "gateway:down"
	EventGatewayRestored      = "gateway:restored"
	EventFundsHeld            = "funds_held"
	EventFundsReleased        = "funds_released"
	EventFundsRefunded        = "funds_refunded"
	EventDisputeCreated       = "dispute_created"
	EventDisputeResolved      = "dispute_resolved"
	EventEscrowAccountCreated = "escrow_account_created"
)
