package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements Queries over Postgres.
type Repository struct {
	db DBTX
}

func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

type scanner interface {
	Scan(dest ...any) error
}

func ToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func FromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return uuid.UUID(id.Bytes)
}

func toPgUUIDPtr(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return ToPgUUID(*id)
}

func fromPgUUIDPtr(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := uuid.UUID(id.Bytes)
	return &v
}

func wrapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Payments

const paymentColumns = `id, user_id, platform_id, amount, currency, gateway_id, mid_id, rule_id, status,
	fees, net_amount, gateway_transaction_id, error, created_at, updated_at, completed_at, charged_back_at`

func scanPayment(row scanner) (models.PaymentTransaction, error) {
	var p models.PaymentTransaction
	err := row.Scan(&p.ID, &p.UserID, &p.PlatformID, &p.Amount, &p.Currency, &p.GatewayID, &p.MIDID, &p.RuleID,
		&p.Status, &p.Fees, &p.NetAmount, &p.GatewayTransactionID, &p.Error, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
		&p.ChargedBackAt)
	return p, err
}

func (r *Repository) InsertPayment(ctx context.Context, p models.PaymentTransaction) error {
	_, err := r.db.Exec(ctx, `INSERT INTO payment_transactions (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.UserID, p.PlatformID, p.Amount, p.Currency, p.GatewayID, p.MIDID, p.RuleID, p.Status,
		p.Fees, p.NetAmount, p.GatewayTransactionID, p.Error, p.CreatedAt, p.UpdatedAt, p.CompletedAt, p.ChargedBackAt)
	if err != nil {
		return wrapErr("insert payment", err)
	}
	return nil
}

func (r *Repository) GetPayment(ctx context.Context, id string) (models.PaymentTransaction, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_transactions WHERE id = $1`, id))
	if err != nil {
		return models.PaymentTransaction{}, wrapErr("get payment", err)
	}
	return p, nil
}

func (r *Repository) FinalizePayment(ctx context.Context, p models.PaymentTransaction) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE payment_transactions
		SET status = $2, fees = $3, net_amount = $4, gateway_transaction_id = $5, error = $6,
		    updated_at = $7, completed_at = $8
		WHERE id = $1 AND status = 'processing'`,
		p.ID, p.Status, p.Fees, p.NetAmount, p.GatewayTransactionID, p.Error, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		return 0, wrapErr("finalize payment", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) ListStalePayments(ctx context.Context, before time.Time, limit int32) ([]models.PaymentTransaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payment_transactions
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, wrapErr("list stale payments", err)
	}
	defer rows.Close()

	var out []models.PaymentTransaction
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, wrapErr("scan stale payment", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) MarkPaymentChargedBack(ctx context.Context, id string, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE payment_transactions
		SET charged_back_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'completed' AND charged_back_at IS NULL`, id, at)
	if err != nil {
		return 0, wrapErr("mark payment charged back", err)
	}
	return tag.RowsAffected(), nil
}

// Payouts

const payoutColumns = `id, creator_id, account_id, amount, currency, method_id, fee, net_amount, status,
	destination, reference_id, external_payout_id, failure_reason, created_at, updated_at, completed_at, claimed_at`

func scanPayout(row scanner) (models.PayoutRequest, error) {
	var p models.PayoutRequest
	err := row.Scan(&p.ID, &p.CreatorID, &p.AccountID, &p.Amount, &p.Currency, &p.MethodID, &p.Fee, &p.NetAmount,
		&p.Status, &p.Destination, &p.ReferenceID, &p.ExternalPayoutID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.ClaimedAt)
	return p, err
}

func (r *Repository) InsertPayout(ctx context.Context, p models.PayoutRequest) error {
	_, err := r.db.Exec(ctx, `INSERT INTO payouts (`+payoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.CreatorID, p.AccountID, p.Amount, p.Currency, p.MethodID, p.Fee, p.NetAmount, p.Status,
		p.Destination, p.ReferenceID, p.ExternalPayoutID, p.FailureReason, p.CreatedAt, p.UpdatedAt, p.CompletedAt, p.ClaimedAt)
	if err != nil {
		return wrapErr("insert payout", err)
	}
	return nil
}

func (r *Repository) GetPayout(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	p, err := scanPayout(r.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
	if err != nil {
		return models.PayoutRequest{}, wrapErr("get payout", err)
	}
	return p, nil
}

func (r *Repository) GetPayoutByReference(ctx context.Context, creatorID, referenceID string) (models.PayoutRequest, error) {
	p, err := scanPayout(r.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE creator_id = $1 AND reference_id = $2`, creatorID, referenceID))
	if err != nil {
		return models.PayoutRequest{}, wrapErr("get payout by reference", err)
	}
	return p, nil
}

// ClaimProcessingPayouts uses SKIP LOCKED so concurrent workers never claim the same row.
func (r *Repository) ClaimProcessingPayouts(ctx context.Context, now, staleBefore time.Time, limit int32) ([]models.PayoutRequest, error) {
	rows, err := r.db.Query(ctx, `UPDATE payouts SET claimed_at = $1
		WHERE id IN (
			SELECT id FROM payouts
			WHERE status = 'processing' AND (claimed_at IS NULL OR claimed_at < $2)
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+payoutColumns, now, staleBefore, limit)
	if err != nil {
		return nil, wrapErr("claim processing payouts", err)
	}
	defer rows.Close()

	var payouts []models.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, wrapErr("scan payout", err)
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func (r *Repository) FinalizePayout(ctx context.Context, p models.PayoutRequest) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE payouts
		SET status = $2, external_payout_id = $3, failure_reason = $4, updated_at = $5, completed_at = $6
		WHERE id = $1 AND status = 'processing'`,
		p.ID, p.Status, p.ExternalPayoutID, p.FailureReason, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		return 0, wrapErr("finalize payout", err)
	}
	return tag.RowsAffected(), nil
}

// Escrow accounts

const accountColumns = `id, user_id, role, balance, held_balance, available_balance, pending_releases,
	currency, status, created_at, updated_at`

func scanAccount(row scanner) (models.EscrowAccount, error) {
	var a models.EscrowAccount
	err := row.Scan(&a.ID, &a.UserID, &a.Role, &a.Balance, &a.HeldBalance, &a.Available, &a.PendingReleases,
		&a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *Repository) InsertEscrowAccount(ctx context.Context, a models.EscrowAccount) error {
	_, err := r.db.Exec(ctx, `INSERT INTO escrow_accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.UserID, a.Role, a.Balance, a.HeldBalance, a.Available, a.PendingReleases,
		a.Currency, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return wrapErr("insert escrow account", err)
	}
	return nil
}

func (r *Repository) GetEscrowAccount(ctx context.Context, id uuid.UUID) (models.EscrowAccount, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM escrow_accounts WHERE id = $1`, id))
	if err != nil {
		return models.EscrowAccount{}, wrapErr("get escrow account", err)
	}
	return a, nil
}

func (r *Repository) GetEscrowAccountForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowAccount, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM escrow_accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return models.EscrowAccount{}, wrapErr("lock escrow account", err)
	}
	return a, nil
}

func (r *Repository) GetEscrowAccountByOwner(ctx context.Context, userID, role string) (models.EscrowAccount, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM escrow_accounts
		WHERE user_id = $1 AND role = $2`, userID, role))
	if err != nil {
		return models.EscrowAccount{}, wrapErr("get escrow account by owner", err)
	}
	return a, nil
}

func (r *Repository) ListEscrowAccountsByUser(ctx context.Context, userID string) ([]models.EscrowAccount, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM escrow_accounts
		WHERE user_id = $1 ORDER BY role`, userID)
	if err != nil {
		return nil, wrapErr("list escrow accounts", err)
	}
	defer rows.Close()

	var accounts []models.EscrowAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, wrapErr("scan escrow account", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *Repository) UpdateEscrowAccount(ctx context.Context, a models.EscrowAccount) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE escrow_accounts
		SET balance = $2, held_balance = $3, available_balance = $4, pending_releases = $5, status = $6, updated_at = $7
		WHERE id = $1`,
		a.ID, a.Balance, a.HeldBalance, a.Available, a.PendingReleases, a.Status, a.UpdatedAt)
	if err != nil {
		return 0, wrapErr("update escrow account", err)
	}
	return tag.RowsAffected(), nil
}

// Escrow transactions

const escrowTxColumns = `id, account_id, from_user_id, to_user_id, amount, currency, type, status, reason,
	hold_days, auto_release, release_date, released_at, refunded_amount, dispute_id, created_at, updated_at`

func scanEscrowTx(row scanner) (models.EscrowTransaction, error) {
	var t models.EscrowTransaction
	var disputeID pgtype.UUID
	err := row.Scan(&t.ID, &t.AccountID, &t.FromUserID, &t.ToUserID, &t.Amount, &t.Currency, &t.Type, &t.Status,
		&t.Reason, &t.HoldDays, &t.AutoRelease, &t.ReleaseDate, &t.ReleasedAt, &t.RefundedAmount, &disputeID,
		&t.CreatedAt, &t.UpdatedAt)
	t.DisputeID = fromPgUUIDPtr(disputeID)
	return t, err
}

func (r *Repository) InsertEscrowTransaction(ctx context.Context, t models.EscrowTransaction) error {
	_, err := r.db.Exec(ctx, `INSERT INTO escrow_transactions (`+escrowTxColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID, t.AccountID, t.FromUserID, t.ToUserID, t.Amount, t.Currency, t.Type, t.Status, t.Reason,
		t.HoldDays, t.AutoRelease, t.ReleaseDate, t.ReleasedAt, t.RefundedAmount, toPgUUIDPtr(t.DisputeID),
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return wrapErr("insert escrow transaction", err)
	}
	return nil
}

func (r *Repository) GetEscrowTransaction(ctx context.Context, id uuid.UUID) (models.EscrowTransaction, error) {
	t, err := scanEscrowTx(r.db.QueryRow(ctx, `SELECT `+escrowTxColumns+` FROM escrow_transactions WHERE id = $1`, id))
	if err != nil {
		return models.EscrowTransaction{}, wrapErr("get escrow transaction", err)
	}
	return t, nil
}

func (r *Repository) GetEscrowTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowTransaction, error) {
	t, err := scanEscrowTx(r.db.QueryRow(ctx, `SELECT `+escrowTxColumns+` FROM escrow_transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return models.EscrowTransaction{}, wrapErr("lock escrow transaction", err)
	}
	return t, nil
}

func (r *Repository) UpdateEscrowTransaction(ctx context.Context, t models.EscrowTransaction) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE escrow_transactions
		SET status = $2, released_at = $3, refunded_amount = $4, dispute_id = $5, updated_at = $6
		WHERE id = $1`,
		t.ID, t.Status, t.ReleasedAt, t.RefundedAmount, toPgUUIDPtr(t.DisputeID), t.UpdatedAt)
	if err != nil {
		return 0, wrapErr("update escrow transaction", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) ListEscrowTransactionsByUser(ctx context.Context, userID string, statuses []string, limit int32) ([]models.EscrowTransaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+escrowTxColumns+` FROM escrow_transactions
		WHERE (to_user_id = $1 OR from_user_id = $1) AND status = ANY($2)
		ORDER BY created_at DESC
		LIMIT $3`, userID, statuses, limit)
	if err != nil {
		return nil, wrapErr("list escrow transactions", err)
	}
	defer rows.Close()

	var txs []models.EscrowTransaction
	for rows.Next() {
		t, err := scanEscrowTx(rows)
		if err != nil {
			return nil, wrapErr("scan escrow transaction", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ListDueReleases skips holds on inactive accounts; they cannot be released and
// would otherwise fill every batch.
func (r *Repository) ListDueReleases(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT t.id FROM escrow_transactions t
		JOIN escrow_accounts a ON a.id = t.account_id AND a.status = 'active'
		WHERE t.status = 'held' AND t.auto_release AND t.release_date <= $1
		ORDER BY t.release_date
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, wrapErr("list due releases", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("scan due release", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Escrow releases

func (r *Repository) InsertEscrowRelease(ctx context.Context, rel models.EscrowRelease) error {
	_, err := r.db.Exec(ctx, `INSERT INTO escrow_releases
		(id, transaction_id, account_id, amount, type, actor, payout_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rel.ID, rel.TransactionID, rel.AccountID, rel.Amount, rel.Type, rel.Actor, rel.PayoutMethod, rel.CreatedAt)
	if err != nil {
		return wrapErr("insert escrow release", err)
	}
	return nil
}

func (r *Repository) ListEscrowReleases(ctx context.Context, transactionID uuid.UUID) ([]models.EscrowRelease, error) {
	rows, err := r.db.Query(ctx, `SELECT id, transaction_id, account_id, amount, type, actor, payout_method, created_at
		FROM escrow_releases WHERE transaction_id = $1 ORDER BY created_at`, transactionID)
	if err != nil {
		return nil, wrapErr("list escrow releases", err)
	}
	defer rows.Close()

	var releases []models.EscrowRelease
	for rows.Next() {
		var rel models.EscrowRelease
		if err := rows.Scan(&rel.ID, &rel.TransactionID, &rel.AccountID, &rel.Amount, &rel.Type, &rel.Actor,
			&rel.PayoutMethod, &rel.CreatedAt); err != nil {
			return nil, wrapErr("scan escrow release", err)
		}
		releases = append(releases, rel)
	}
	return releases, rows.Err()
}

// Disputes

const disputeColumns = `id, transaction_id, initiated_by, reason, evidence, status, resolution,
	resolution_amount, resolved_by, resolved_at, created_at, updated_at`

func scanDispute(row scanner) (models.EscrowDispute, error) {
	var d models.EscrowDispute
	err := row.Scan(&d.ID, &d.TransactionID, &d.InitiatedBy, &d.Reason, &d.Evidence, &d.Status, &d.Resolution,
		&d.ResolutionAmount, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (r *Repository) InsertDispute(ctx context.Context, d models.EscrowDispute) error {
	_, err := r.db.Exec(ctx, `INSERT INTO escrow_disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.TransactionID, d.InitiatedBy, d.Reason, evidenceParam(d.Evidence), d.Status, d.Resolution,
		d.ResolutionAmount, d.ResolvedBy, d.ResolvedAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return wrapErr("insert dispute", err)
	}
	return nil
}

func (r *Repository) GetDispute(ctx context.Context, id uuid.UUID) (models.EscrowDispute, error) {
	d, err := scanDispute(r.db.QueryRow(ctx, `SELECT `+disputeColumns+` FROM escrow_disputes WHERE id = $1`, id))
	if err != nil {
		return models.EscrowDispute{}, wrapErr("get dispute", err)
	}
	return d, nil
}

func (r *Repository) GetDisputeForUpdate(ctx context.Context, id uuid.UUID) (models.EscrowDispute, error) {
	d, err := scanDispute(r.db.QueryRow(ctx, `SELECT `+disputeColumns+` FROM escrow_disputes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return models.EscrowDispute{}, wrapErr("lock dispute", err)
	}
	return d, nil
}

func (r *Repository) UpdateDispute(ctx context.Context, d models.EscrowDispute) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE escrow_disputes
		SET evidence = $2, status = $3, resolution = $4, resolution_amount = $5, resolved_by = $6,
		    resolved_at = $7, updated_at = $8
		WHERE id = $1`,
		d.ID, evidenceParam(d.Evidence), d.Status, d.Resolution, d.ResolutionAmount, d.ResolvedBy, d.ResolvedAt, d.UpdatedAt)
	if err != nil {
		return 0, wrapErr("update dispute", err)
	}
	return tag.RowsAffected(), nil
}

func evidenceParam(evidence []string) []string {
	if evidence == nil {
		return []string{}
	}
	return evidence
}

// Audit

func (r *Repository) InsertAuditLog(ctx context.Context, e models.AuditEntry) error {
	_, err := r.db.Exec(ctx, `INSERT INTO audit_log
		(entity_type, entity_id, actor, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.EntityType, e.EntityID, e.Actor, e.Action, e.PrevState, e.NextState, e.Metadata, e.CreatedAt)
	if err != nil {
		return wrapErr("insert audit log", err)
	}
	return nil
}

// Reconciliation

func (r *Repository) ListEscrowImbalances(ctx context.Context) ([]EscrowImbalance, error) {
	rows, err := r.db.Query(ctx, `SELECT a.id, a.balance, a.held_balance, a.available_balance, a.pending_releases,
		       COALESCE(SUM(t.amount) FILTER (WHERE t.status IN ('held', 'disputed')), 0) AS open_amount,
		       COUNT(t.id) FILTER (WHERE t.status IN ('held', 'disputed')) AS open_count
		FROM escrow_accounts a
		LEFT JOIN escrow_transactions t ON t.account_id = a.id
		GROUP BY a.id
		HAVING a.balance <> a.held_balance + a.available_balance
		    OR a.held_balance <> COALESCE(SUM(t.amount) FILTER (WHERE t.status IN ('held', 'disputed')), 0)
		    OR a.pending_releases <> COUNT(t.id) FILTER (WHERE t.status IN ('held', 'disputed'))
		ORDER BY a.id`)
	if err != nil {
		return nil, wrapErr("list escrow imbalances", err)
	}
	defer rows.Close()

	var out []EscrowImbalance
	for rows.Next() {
		var (
			im        EscrowImbalance
			openCount int64
		)
		if err := rows.Scan(&im.AccountID, &im.Balance, &im.HeldBalance, &im.Available, &im.PendingReleases, &im.OpenAmount, &openCount); err != nil {
			return nil, wrapErr("scan escrow imbalance", err)
		}
		im.OpenCount = int(openCount)
		out = append(out, im)
	}
	return out, rows.Err()
}
