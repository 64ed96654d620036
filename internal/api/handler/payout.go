package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/payment-orchestrator/internal/api/middleware"
	"github.com/ayo6706/payment-orchestrator/internal/service"
)

// PayoutHandler handles HTTP requests for payouts.
type PayoutHandler struct {
	payoutSvc *service.PayoutService
}

// NewPayoutHandler creates a new PayoutHandler instance.
func NewPayoutHandler(payoutSvc *service.PayoutService) *PayoutHandler {
	return &PayoutHandler{payoutSvc: payoutSvc}
}

// CreatePayoutRequest represents the request body for creating a payout.
type CreatePayoutRequest struct {
	CreatorID   string `json:"creator_id" validate:"omitempty,max=255"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	MethodID    string `json:"method_id" validate:"required,max=64"`
	Destination string `json:"destination" validate:"required,max=512"`
	ReferenceID string `json:"reference_id" validate:"omitempty,max=255"`
}

// CreatePayout handles POST /v1/payouts
// It debits the creator's available balance and returns 202 Accepted; the
// payout worker completes it. References are unique per creator.
func (h *PayoutHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}

	var req CreatePayoutRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.CreatorID == "" {
		req.CreatorID = caller.ID
	}
	if !caller.allows(req.CreatorID) {
		forbid(w, r)
		return
	}
	if req.ReferenceID == "" {
		req.ReferenceID = strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader))
	}

	payout, err := h.payoutSvc.Payout(r.Context(), service.PayoutInput{
		CreatorID:   req.CreatorID,
		Amount:      req.Amount,
		MethodID:    req.MethodID,
		Destination: req.Destination,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		respondServiceError(w, r, err, "payout/create-failed", "Failed to create payout")
		return
	}

	RespondJSON(w, http.StatusAccepted, payout)
}

// GetPayout handles GET /v1/payouts/{id}
// It returns the current status of a payout.
func (h *PayoutHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}
	payoutID, ok := uuidParam(w, r, "id", "request/invalid-payout-id")
	if !ok {
		return
	}

	payout, err := h.payoutSvc.GetPayout(r.Context(), payoutID)
	if err != nil {
		respondServiceError(w, r, err, "payout/read-failed", "Failed to get payout")
		return
	}
	if !caller.allows(payout.CreatorID) {
		forbid(w, r)
		return
	}

	RespondJSON(w, http.StatusOK, payout)
}

// ListPayoutMethods handles GET /v1/payout-methods.
func (h *PayoutHandler) ListPayoutMethods(w http.ResponseWriter, r *http.Request) {
	methods := h.payoutSvc.ListPayoutMethods()
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": methods,
		"count": len(methods),
	})
}
