package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/payment-orchestrator/internal/api/middleware"
	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	svc *service.PaymentService
}

func NewPaymentHandler(svc *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

type createPaymentRequest struct {
	ID            string            `json:"id" validate:"omitempty,max=255"`
	UserID        string            `json:"user_id" validate:"omitempty,max=255"`
	PlatformID    string            `json:"platform_id" validate:"required,max=255"`
	Amount        int64             `json:"amount" validate:"required,gt=0"`
	Currency      string            `json:"currency" validate:"required,len=3"`
	Region        string            `json:"region" validate:"required,max=8"`
	PaymentMethod string            `json:"payment_method" validate:"required,max=64"`
	RiskLevel     string            `json:"risk_level" validate:"omitempty,oneof=low medium high"`
	AdultContent  bool              `json:"adult_content"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CreatePayment handles POST /v1/payments.
// The payment id is the body id, else the caller-scoped Idempotency-Key, else a
// fresh uuid. Replays return 200, new payments 201. A body id owned by another
// user is a 409.
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}

	var req createPaymentRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = caller.ID
	}
	if !caller.allows(req.UserID) {
		forbid(w, r)
		return
	}
	if req.ID == "" {
		req.ID = scopedID(caller, strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader)))
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	res, err := h.svc.Process(r.Context(), models.PaymentRequest{
		ID:            req.ID,
		UserID:        req.UserID,
		PlatformID:    req.PlatformID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Region:        req.Region,
		PaymentMethod: req.PaymentMethod,
		RiskLevel:     req.RiskLevel,
		AdultContent:  req.AdultContent,
		Metadata:      req.Metadata,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPaymentInProgress) {
			w.Header().Set("Retry-After", "1")
		}
		respondServiceError(w, r, err, "payment/process-failed", "Failed to process payment")
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	RespondJSON(w, status, res)
}

// GetPayment handles GET /v1/payments/{id}.
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}

	txn, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, "payment/read-failed", "Failed to get payment")
		return
	}
	if !caller.allows(txn.UserID) {
		forbid(w, r)
		return
	}
	RespondJSON(w, http.StatusOK, txn)
}
