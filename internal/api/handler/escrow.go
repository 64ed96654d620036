package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// EscrowHandler serves holds, releases, refunds, disputes and balances.
type EscrowHandler struct {
	svc *service.EscrowService
}

func NewEscrowHandler(svc *service.EscrowService) *EscrowHandler {
	return &EscrowHandler{svc: svc}
}

type holdFundsRequest struct {
	From        string `json:"from" validate:"omitempty,max=255"`
	To          string `json:"to" validate:"required,max=255"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Reason      string `json:"reason" validate:"max=512"`
	HoldDays    *int   `json:"hold_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	AutoRelease *bool  `json:"auto_release,omitempty"`
}

// HoldFunds handles POST /v1/escrow/holds.
func (h *EscrowHandler) HoldFunds(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req holdFundsRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.From == "" {
		req.From = caller.ID
	}
	if !caller.allows(req.From) {
		forbid(w, r)
		return
	}

	tx, err := h.svc.HoldFunds(r.Context(), service.HoldRequest{
		From:        req.From,
		To:          req.To,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reason:      req.Reason,
		HoldDays:    req.HoldDays,
		AutoRelease: req.AutoRelease,
	})
	if err != nil {
		respondServiceError(w, r, err, "escrow/hold-failed", "Failed to hold funds")
		return
	}
	RespondJSON(w, http.StatusCreated, tx)
}

// GetTransaction handles GET /v1/escrow/transactions/{id}.
func (h *EscrowHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	caller, tx, ok := h.loadTransaction(w, r)
	if !ok {
		return
	}
	if !caller.allows(tx.FromUserID, tx.ToUserID) {
		forbid(w, r)
		return
	}
	releases, err := h.svc.Releases(r.Context(), tx.ID)
	if err != nil {
		respondServiceError(w, r, err, "escrow/read-failed", "Failed to get escrow transaction")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"transaction": tx,
		"releases":    releases,
	})
}

// ReleaseFunds handles POST /v1/escrow/transactions/{id}/release.
// The payer or an admin may release early.
func (h *EscrowHandler) ReleaseFunds(w http.ResponseWriter, r *http.Request) {
	caller, tx, ok := h.loadTransaction(w, r)
	if !ok {
		return
	}
	if !caller.allows(tx.FromUserID) {
		forbid(w, r)
		return
	}
	out, err := h.svc.ReleaseFunds(r.Context(), tx.ID, domain.ReleaseTypeManual, caller.ID)
	if err != nil {
		respondServiceError(w, r, err, "escrow/release-failed", "Failed to release funds")
		return
	}
	RespondJSON(w, http.StatusOK, out)
}

type refundRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

// RefundFunds handles POST /v1/escrow/transactions/{id}/refund.
// The recipient or an admin may refund a hold.
func (h *EscrowHandler) RefundFunds(w http.ResponseWriter, r *http.Request) {
	caller, tx, ok := h.loadTransaction(w, r)
	if !ok {
		return
	}
	if !caller.allows(tx.ToUserID) {
		forbid(w, r)
		return
	}
	var req refundRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	out, err := h.svc.RefundFunds(r.Context(), tx.ID, req.Reason, caller.ID)
	if err != nil {
		respondServiceError(w, r, err, "escrow/refund-failed", "Failed to refund funds")
		return
	}
	RespondJSON(w, http.StatusOK, out)
}

// GetBalance handles GET /v1/escrow/users/{userID}/balance.
func (h *EscrowHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userID")
	if !caller.allows(userID) {
		forbid(w, r)
		return
	}
	accounts, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err, "escrow/balance-failed", "Failed to get balance")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"accounts": accounts,
	})
}

// ListTransactions handles GET /v1/escrow/users/{userID}/transactions?view=pending|history&limit=N.
func (h *EscrowHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userID")
	if !caller.allows(userID) {
		forbid(w, r)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}
	view := r.URL.Query().Get("view")
	txs, err := h.svc.ListTransactions(r.Context(), userID, view, limit)
	if err != nil {
		respondServiceError(w, r, err, "escrow/list-failed", "Failed to list escrow transactions")
		return
	}
	if view == "" {
		view = service.ViewPending
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": txs,
		"view":  view,
		"count": len(txs),
	})
}

// FreezeAccount handles POST /v1/admin/escrow/accounts/{id}/freeze.
func (h *EscrowHandler) FreezeAccount(w http.ResponseWriter, r *http.Request) {
	h.setAccountStatus(w, r, h.svc.FreezeAccount)
}

// UnfreezeAccount handles POST /v1/admin/escrow/accounts/{id}/unfreeze.
func (h *EscrowHandler) UnfreezeAccount(w http.ResponseWriter, r *http.Request) {
	h.setAccountStatus(w, r, h.svc.UnfreezeAccount)
}

type accountStatusFunc func(ctx context.Context, id uuid.UUID, actor string) (models.EscrowAccount, error)

func (h *EscrowHandler) setAccountStatus(w http.ResponseWriter, r *http.Request, fn accountStatusFunc) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id", "request/invalid-account-id")
	if !ok {
		return
	}
	acc, err := fn(r.Context(), id, caller.ID)
	if err != nil {
		respondServiceError(w, r, err, "escrow/account-update-failed", "Failed to update escrow account")
		return
	}
	RespondJSON(w, http.StatusOK, acc)
}

func (h *EscrowHandler) loadTransaction(w http.ResponseWriter, r *http.Request) (actor, models.EscrowTransaction, bool) {
	caller, ok := mustActor(w, r)
	if !ok {
		return actor{}, models.EscrowTransaction{}, false
	}
	id, ok := uuidParam(w, r, "id", "request/invalid-transaction-id")
	if !ok {
		return actor{}, models.EscrowTransaction{}, false
	}
	tx, err := h.svc.GetTransaction(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "escrow/read-failed", "Failed to get escrow transaction")
		return actor{}, models.EscrowTransaction{}, false
	}
	return caller, tx, true
}
