package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/gateway"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"github.com/ayo6706/payment-orchestrator/internal/routing"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

const (
	defaultGatewayTimeout = 15 * time.Second

	// a processing payment untouched this long lost its finalize and is expired
	stalePaymentWindow = 15 * time.Minute
	stalePaymentError  = "outcome unknown: payment was never finalized"
)

// Router picks the gateway for a payment request.
type Router interface {
	Route(req models.PaymentRequest) (routing.Decision, error)
}

// VolumeRecorder tracks approved volume per gateway.
type VolumeRecorder interface {
	RecordVolume(id, currency string, amount int64) error
}

// OutcomeRecorder tracks approvals and declines per MID.
type OutcomeRecorder interface {
	RecordOutcome(id string, amount int64, approved bool) error
}

// PaymentService routes payments and executes them against the selected gateway.
type PaymentService struct {
	store    QueryStore
	router   Router
	executor gateway.Executor
	gateways VolumeRecorder
	mids     OutcomeRecorder
	events   EventPublisher
	clock    clockz.Clock
	timeout  time.Duration
}

func NewPaymentService(store QueryStore, router Router, executor gateway.Executor, gateways VolumeRecorder, mids OutcomeRecorder, events EventPublisher, clock clockz.Clock, timeout time.Duration) *PaymentService {
	if clock == nil {
		clock = clockz.RealClock
	}
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &PaymentService{
		store:    store,
		router:   router,
		executor: executor,
		gateways: gateways,
		mids:     mids,
		events:   events,
		clock:    clock,
		timeout:  timeout,
	}
}

// TransactionResult is the outcome of Process. Replayed is set when the payment id
// had already been processed and nothing was executed.
type TransactionResult struct {
	Transaction models.PaymentTransaction `json:"transaction"`
	Replayed    bool                      `json:"replayed"`
}

var riskLevels = []string{domain.RiskLow, domain.RiskMedium, domain.RiskHigh}

// Process executes a payment exactly once per request id.
//
// A failed execution is recorded and returned together with ErrGatewayExecution.
// Repeating a request id never executes again: a completed or failed id replays
// its stored outcome and an id still processing returns ErrPaymentInProgress.
// An id already taken by another user returns ErrIDConflict.
func (s *PaymentService) Process(ctx context.Context, req models.PaymentRequest) (TransactionResult, error) {
	req, err := normalizePaymentRequest(req)
	if err != nil {
		return TransactionResult{}, err
	}

	queries := s.store.Queries()
	existing, err := queries.GetPayment(ctx, req.ID)
	if err == nil {
		if existing.UserID != req.UserID {
			return TransactionResult{}, idConflict(req.ID)
		}
		return replay(existing)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return TransactionResult{}, fmt.Errorf("check payment idempotency: %w", err)
	}

	decision, err := s.router.Route(req)
	if err != nil {
		return TransactionResult{}, err
	}

	now := s.clock.Now().UTC()
	txn := models.PaymentTransaction{
		ID:         req.ID,
		UserID:     req.UserID,
		PlatformID: req.PlatformID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		GatewayID:  decision.Gateway.ID,
		RuleID:     decision.RuleID,
		Status:     domain.PaymentStatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if decision.MID != nil {
		txn.MIDID = decision.MID.ID
	}
	if err := queries.InsertPayment(ctx, txn); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			if other, getErr := queries.GetPayment(ctx, req.ID); getErr == nil && other.UserID != req.UserID {
				return TransactionResult{}, idConflict(req.ID)
			}
			return TransactionResult{}, fmt.Errorf("payment %s: %w", req.ID, domain.ErrPaymentInProgress)
		}
		return TransactionResult{}, fmt.Errorf("insert payment: %w", err)
	}

	res, execErr := s.execute(ctx, decision, req)

	// the charge already happened; record it even if the caller went away
	finalizeCtx := context.WithoutCancel(ctx)
	completedAt := s.clock.Now().UTC()
	txn.UpdatedAt = completedAt
	txn.CompletedAt = &completedAt
	if execErr == nil && res.Success {
		txn.Status = domain.PaymentStatusCompleted
		txn.GatewayTransactionID = res.TransactionID
		txn.Fees = domain.Fee(txn.Amount, decision.Gateway.Fees.Percentage, decision.Gateway.Fees.Fixed)
		txn.NetAmount = domain.Net(txn.Amount, txn.Fees)
	} else {
		txn.Status = domain.PaymentStatusFailed
		txn.Error = failureMessage(res, execErr)
	}

	rows, err := s.store.Queries().FinalizePayment(finalizeCtx, txn)
	if err != nil {
		zap.L().Error("payment executed but not finalized",
			zap.String("payment_id", txn.ID),
			zap.String("gateway", txn.GatewayID),
			zap.String("outcome", txn.Status),
			zap.String("gateway_transaction_id", txn.GatewayTransactionID),
			zap.Error(err),
		)
		return TransactionResult{}, fmt.Errorf("finalize payment %s: %w", txn.ID, err)
	}
	if err := requireExactlyOne(rows, "finalize payment"); err != nil {
		return TransactionResult{}, err
	}

	s.recordOutcome(txn)
	observability.IncrementPayment(txn.GatewayID, txn.Status)

	if txn.Status == domain.PaymentStatusFailed {
		zap.L().Warn("payment failed",
			zap.String("payment_id", txn.ID),
			zap.String("gateway", txn.GatewayID),
			zap.String("error", txn.Error),
		)
		publish(finalizeCtx, s.events, domain.EventPaymentFailed, txn)
		return TransactionResult{Transaction: txn}, fmt.Errorf("payment %s via %s: %s: %w", txn.ID, txn.GatewayID, txn.Error, domain.ErrGatewayExecution)
	}

	zap.L().Info("payment processed",
		zap.String("payment_id", txn.ID),
		zap.String("gateway", txn.GatewayID),
		zap.String("mid", txn.MIDID),
		zap.String("rule", txn.RuleID),
		zap.Bool("fallback", decision.Fallback),
	)
	publish(finalizeCtx, s.events, domain.EventPaymentProcessed, txn)
	return TransactionResult{Transaction: txn}, nil
}

// ExpireStale fails up to limit payments stuck in processing past the stale window,
// so their ids stop answering ErrPaymentInProgress. The gateway outcome of such a
// payment is unknown; each one is logged for manual reconciliation.
func (s *PaymentService) ExpireStale(ctx context.Context, limit int32) (int, error) {
	now := s.clock.Now().UTC()
	stale, err := s.store.Queries().ListStalePayments(ctx, now.Add(-stalePaymentWindow), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale payments: %w", err)
	}

	expired := 0
	for _, txn := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		txn.Status = domain.PaymentStatusFailed
		txn.Error = stalePaymentError
		txn.UpdatedAt = now
		txn.CompletedAt = &now
		rows, err := s.store.Queries().FinalizePayment(ctx, txn)
		if err != nil {
			return expired, fmt.Errorf("expire payment %s: %w", txn.ID, err)
		}
		if rows == 0 {
			continue
		}
		expired++
		observability.IncrementPayment(txn.GatewayID, txn.Status)
		zap.L().Error("stale payment expired, reconcile with gateway",
			zap.String("payment_id", txn.ID),
			zap.String("gateway", txn.GatewayID),
			zap.String("mid", txn.MIDID),
			zap.Int64("amount", txn.Amount),
			zap.Time("created_at", txn.CreatedAt),
		)
		publish(ctx, s.events, domain.EventPaymentFailed, txn)
	}
	return expired, nil
}

// Get returns a payment transaction by id.
func (s *PaymentService) Get(ctx context.Context, id string) (models.PaymentTransaction, error) {
	txn, err := s.store.Queries().GetPayment(ctx, id)
	if err != nil {
		return models.PaymentTransaction{}, notFound(err, domain.ErrTransactionNotFound)
	}
	return txn, nil
}

func (s *PaymentService) execute(ctx context.Context, decision routing.Decision, req models.PaymentRequest) (gateway.Result, error) {
	execCtx, cancel := s.clock.WithTimeout(ctx, s.timeout)
	defer cancel()

	charge := gateway.ChargeRequest{
		PaymentID: req.ID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}
	if decision.MID != nil {
		charge.MIDID = decision.MID.ID
		charge.Descriptor = decision.MID.Descriptor
	}

	start := s.clock.Now()
	res, err := s.executor.Execute(execCtx, decision.Gateway, charge)
	observability.ObserveGatewayLatency(decision.Gateway.ID, s.clock.Now().Sub(start))
	if err == nil && execCtx.Err() != nil {
		err = execCtx.Err()
	}
	return res, err
}

func (s *PaymentService) recordOutcome(txn models.PaymentTransaction) {
	approved := txn.Status == domain.PaymentStatusCompleted
	if approved && s.gateways != nil {
		if err := s.gateways.RecordVolume(txn.GatewayID, txn.Currency, txn.Amount); err != nil {
			zap.L().Warn("record gateway volume failed", zap.String("gateway", txn.GatewayID), zap.Error(err))
		}
	}
	if txn.MIDID != "" && s.mids != nil {
		if err := s.mids.RecordOutcome(txn.MIDID, txn.Amount, approved); err != nil {
			zap.L().Warn("record mid outcome failed", zap.String("mid", txn.MIDID), zap.Error(err))
		}
	}
}

func replay(txn models.PaymentTransaction) (TransactionResult, error) {
	result := TransactionResult{Transaction: txn, Replayed: true}
	switch txn.Status {
	case domain.PaymentStatusProcessing:
		return TransactionResult{}, fmt.Errorf("payment %s: %w", txn.ID, domain.ErrPaymentInProgress)
	case domain.PaymentStatusFailed:
		return result, fmt.Errorf("payment %s via %s: %s: %w", txn.ID, txn.GatewayID, txn.Error, domain.ErrGatewayExecution)
	default:
		return result, nil
	}
}

func idConflict(id string) error {
	return fmt.Errorf("payment %s: %w", id, domain.ErrIDConflict)
}

func failureMessage(res gateway.Result, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "gateway timeout"
	case err != nil:
		return err.Error()
	case res.Message != "":
		return res.Message
	default:
		return "declined"
	}
}

func normalizePaymentRequest(req models.PaymentRequest) (models.PaymentRequest, error) {
	req.ID = strings.TrimSpace(req.ID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.ID == "" || req.UserID == "" {
		return req, fmt.Errorf("id and user_id are required: %w", domain.ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return req, fmt.Errorf("amount %d: %w", req.Amount, domain.ErrInvalidRequest)
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return req, err
	}
	req.Currency = currency
	req.Region = strings.ToUpper(strings.TrimSpace(req.Region))
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	req.RiskLevel = strings.ToLower(strings.TrimSpace(req.RiskLevel))
	if req.RiskLevel == "" {
		req.RiskLevel = domain.RiskLow
	}
	if !slices.Contains(riskLevels, req.RiskLevel) {
		return req, fmt.Errorf("risk level %q: %w", req.RiskLevel, domain.ErrInvalidRequest)
	}
	return req, nil
}
