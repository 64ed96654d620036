package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid signature")

// ChargebackRecorder counts a chargeback against a MID.
type ChargebackRecorder interface {
	RecordChargeback(ctx context.Context, id, actor string) (models.MerchantID, error)
}

// WebhookService handles signed notifications sent by gateways.
type WebhookService struct {
	store       QueryStore
	chargebacks ChargebackRecorder
	hmacKey     []byte
	skipSig     bool
	audit       *AuditService
	clock       clockz.Clock
}

func NewWebhookService(store QueryStore, chargebacks ChargebackRecorder, hmacKey string, skipSignature bool, clock clockz.Clock) *WebhookService {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &WebhookService{
		store:       store,
		chargebacks: chargebacks,
		hmacKey:     []byte(hmacKey),
		skipSig:     skipSignature,
		audit:       NewAuditService(clock),
		clock:       clock,
	}
}

// ChargebackWebhookPayload is the chargeback notification body.
type ChargebackWebhookPayload struct {
	PaymentID string `json:"payment_id"`
	GatewayID string `json:"gateway_id"`
	Reason    string `json:"reason"`
}

type ChargebackWebhookResponse struct {
	PaymentID      string `json:"payment_id"`
	MIDID          string `json:"mid_id,omitempty"`
	Status         string `json:"status"`
	ChargebackRate string `json:"chargeback_rate,omitempty"`
}

// HandleChargebackWebhook verifies the signature, marks the payment charged back
// and counts the chargeback against the MID that processed it. A repeated
// notification for the same payment is acknowledged without counting it again.
func (s *WebhookService) HandleChargebackWebhook(ctx context.Context, payload []byte, signature string) (*ChargebackWebhookResponse, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var cb ChargebackWebhookPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("invalid payload: %v: %w", err, domain.ErrInvalidRequest)
	}
	cb.PaymentID = strings.TrimSpace(cb.PaymentID)
	cb.GatewayID = strings.TrimSpace(cb.GatewayID)
	if cb.PaymentID == "" {
		return nil, fmt.Errorf("payment_id is required: %w", domain.ErrInvalidRequest)
	}

	var (
		payment   models.PaymentTransaction
		duplicate bool
	)
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		var err error
		payment, err = q.GetPayment(ctx, cb.PaymentID)
		if err != nil {
			return notFound(err, domain.ErrTransactionNotFound)
		}
		if cb.GatewayID != "" && cb.GatewayID != payment.GatewayID {
			return fmt.Errorf("payment %s was processed by %s, not %s: %w", payment.ID, payment.GatewayID, cb.GatewayID, domain.ErrInvalidRequest)
		}
		if payment.Status != domain.PaymentStatusCompleted {
			return fmt.Errorf("chargeback on payment %s in status %s: %w", payment.ID, payment.Status, domain.ErrInvalidState)
		}

		rows, err := q.MarkPaymentChargedBack(ctx, payment.ID, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if rows == 0 {
			duplicate = true
			return nil
		}
		return s.audit.Write(ctx, q, "payment", payment.ID, payment.GatewayID, "charged_back", payment.Status, payment.Status, map[string]string{
			"reason": cb.Reason,
		})
	})
	if err != nil {
		return nil, err
	}

	resp := &ChargebackWebhookResponse{PaymentID: payment.ID, MIDID: payment.MIDID, Status: "recorded"}
	if duplicate {
		resp.Status = "duplicate"
		return resp, nil
	}
	if payment.MIDID == "" || s.chargebacks == nil {
		return resp, nil
	}

	mid, err := s.chargebacks.RecordChargeback(ctx, payment.MIDID, payment.GatewayID)
	if err != nil {
		// the payment is already marked; the MID may have been removed from the catalog
		zap.L().Warn("chargeback not counted against mid", zap.String("payment_id", payment.ID), zap.String("mid", payment.MIDID), zap.Error(err))
		return resp, nil
	}
	resp.ChargebackRate = mid.Current.ChargebackRate.StringFixed(2)
	return resp, nil
}

// verifyHMAC checks a "sha256=<hex>" signature over the raw payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	// constant-time comparison
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}
