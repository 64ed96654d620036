package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Escrow transaction views used by ListEscrowTransactionsByUser.
var (
	PendingEscrowStatuses = []string{"pending", "held", "disputed"}
	HistoryEscrowStatuses = []string{"released", "refunded", "cancelled"}
)

// Queries is the data access contract shared by the Postgres and in-memory stores.
// Update methods return the number of affected rows; callers check for exactly one.
type Queries interface {
	InsertPayment(ctx context.Context, p models.PaymentTransaction) error
	GetPayment(ctx context.Context, id string) (models.PaymentTransaction, error)
	// FinalizePayment applies a terminal outcome only while the row is still processing.
	FinalizePayment(ctx context.Context, p models.PaymentTransaction) (int64, error)
	// ListStalePayments returns processing payments last updated before the cutoff, oldest first.
	ListStalePayments(ctx context.Context, before time.Time, limit int32) ([]models.PaymentTransaction, error)
	// MarkPaymentChargedBack stamps a completed payment once; later calls affect no rows.
	MarkPaymentChargedBack(ctx context.Context, id string, at time.Time) (int64, error)

	InsertPayout(ctx context.Context, p models.PayoutRequest) error
	GetPayout(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error)
	GetPayoutByReference(ctx context.Context, creatorID, referenceID string) (models.PayoutRequest, error)
	// ClaimProcessingPayouts stamps claimed_at on processing payouts that are unclaimed
	// or whose claim is older than staleBefore, and returns them.
	ClaimProcessingPayouts(ctx context.Context, now, staleBefore time.Time, limit int32) ([]models.PayoutRequest, error)
	// FinalizePayout applies a terminal outcome only while the row is still processing.
	FinalizePayout(ctx context.Context, p models.PayoutRequest) (int64, error)

	InsertEscrowAccount(ctx context.Context, a models.EscrowAccount) error
	GetEscrowAccount(ctx context.Context, id uuid.UUID) (models.EscrowAccount, error)
	GetEscrowAccountForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowAccount, error)
	GetEscrowAccountByOwner(ctx context.Context, userID, role string) (models.EscrowAccount, error)
	ListEscrowAccountsByUser(ctx context.Context, userID string) ([]models.EscrowAccount, error)
	UpdateEscrowAccount(ctx context.Context, a models.EscrowAccount) (int64, error)

	InsertEscrowTransaction(ctx context.Context, t models.EscrowTransaction) error
	GetEscrowTransaction(ctx context.Context, id uuid.UUID) (models.EscrowTransaction, error)
	GetEscrowTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowTransaction, error)
	UpdateEscrowTransaction(ctx context.Context, t models.EscrowTransaction) (int64, error)
	ListEscrowTransactionsByUser(ctx context.Context, userID string, statuses []string, limit int32) ([]models.EscrowTransaction, error)
	ListDueReleases(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error)

	InsertEscrowRelease(ctx context.Context, r models.EscrowRelease) error
	ListEscrowReleases(ctx context.Context, transactionID uuid.UUID) ([]models.EscrowRelease, error)

	InsertDispute(ctx context.Context, d models.EscrowDispute) error
	GetDispute(ctx context.Context, id uuid.UUID) (models.EscrowDispute, error)
	GetDisputeForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowDispute, error)
	UpdateDispute(ctx context.Context, d models.EscrowDispute) (int64, error)

	InsertAuditLog(ctx context.Context, e models.AuditEntry) error

	// ListEscrowImbalances returns accounts whose stored balances disagree with
	// their open (held or disputed) transactions.
	ListEscrowImbalances(ctx context.Context) ([]EscrowImbalance, error)
}

// EscrowImbalance compares an account's stored balances with what its open
// transactions say they should be.
type EscrowImbalance struct {
	AccountID       uuid.UUID
	Balance         int64
	HeldBalance     int64
	Available       int64
	PendingReleases int
	OpenAmount      int64
	OpenCount       int
}
