package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/payment-orchestrator/internal/service"
	"go.uber.org/zap"
)

const webhookSignatureHeader = "X-Webhook-Signature"

// WebhookHandler handles incoming webhook events from gateways.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
	}
}

// HandleChargebackWebhook handles POST /v1/webhooks/chargebacks
// It verifies the HMAC signature over the raw body before touching any state.
func (h *WebhookHandler) HandleChargebackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		zap.L().Warn("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	resp, err := h.webhookSvc.HandleChargebackWebhook(r.Context(), body, r.Header.Get(webhookSignatureHeader))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
			return
		}
		respondServiceError(w, r, err, "webhook/processing-failed", "Failed to process webhook")
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}
