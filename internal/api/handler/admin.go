package handler

import (
	"net/http"

	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/service"
	"github.com/go-chi/chi/v5"
)

// RuleAdmin is the routing engine's administrative surface.
type RuleAdmin interface {
	Rules() []models.RoutingRule
	AddRule(rule models.RoutingRule) error
	UpdateRule(id string, patch models.RulePatch) (models.RoutingRule, error)
}

// AdminHandler serves the gateway catalog and operator overrides on
// routing rules, MIDs and gateways.
type AdminHandler struct {
	rules  RuleAdmin
	health *service.HealthService
}

func NewAdminHandler(rules RuleAdmin, health *service.HealthService) *AdminHandler {
	return &AdminHandler{rules: rules, health: health}
}

// ListGateways handles GET /v1/gateways.
func (h *AdminHandler) ListGateways(w http.ResponseWriter, r *http.Request) {
	gateways := h.health.Gateways()
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": gateways,
		"count": len(gateways),
	})
}

// ListRules handles GET /v1/admin/routing-rules.
func (h *AdminHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.rules.Rules()
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": rules,
		"count": len(rules),
	})
}

type createRuleRequest struct {
	ID            string                `json:"id" validate:"required,max=128"`
	Priority      int                   `json:"priority" validate:"gte=0"`
	Conditions    models.RuleConditions `json:"conditions"`
	TargetGateway string                `json:"target_gateway" validate:"required"`
	Fallbacks     []string              `json:"fallbacks" validate:"dive,required"`
	Enabled       *bool                 `json:"enabled"`
}

// CreateRule handles POST /v1/admin/routing-rules. Rules are enabled unless stated otherwise.
func (h *AdminHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	rule := models.RoutingRule{
		ID:            req.ID,
		Priority:      req.Priority,
		Conditions:    req.Conditions,
		TargetGateway: req.TargetGateway,
		Fallbacks:     req.Fallbacks,
		Enabled:       req.Enabled == nil || *req.Enabled,
	}
	if err := h.rules.AddRule(rule); err != nil {
		respondServiceError(w, r, err, "routing/rule-create-failed", "Failed to create routing rule")
		return
	}
	RespondJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PATCH /v1/admin/routing-rules/{id}.
func (h *AdminHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var patch models.RulePatch
	if !decodeRequest(w, r, &patch) {
		return
	}
	rule, err := h.rules.UpdateRule(chi.URLParam(r, "id"), patch)
	if err != nil {
		respondServiceError(w, r, err, "routing/rule-update-failed", "Failed to update routing rule")
		return
	}
	RespondJSON(w, http.StatusOK, rule)
}

// ListMIDs handles GET /v1/admin/mids.
func (h *AdminHandler) ListMIDs(w http.ResponseWriter, r *http.Request) {
	mids := h.health.MIDs()
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": mids,
		"count": len(mids),
	})
}

type midStatusRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

// PauseMID handles POST /v1/admin/mids/{id}/pause.
func (h *AdminHandler) PauseMID(w http.ResponseWriter, r *http.Request) {
	caller, req, ok := h.midRequest(w, r)
	if !ok {
		return
	}
	mid, err := h.health.PauseMID(r.Context(), chi.URLParam(r, "id"), req.Reason, caller.ID)
	h.respondMID(w, r, mid, err)
}

// ResumeMID handles POST /v1/admin/mids/{id}/resume.
func (h *AdminHandler) ResumeMID(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}
	mid, err := h.health.ResumeMID(r.Context(), chi.URLParam(r, "id"), caller.ID)
	h.respondMID(w, r, mid, err)
}

// SuspendMID handles POST /v1/admin/mids/{id}/suspend.
func (h *AdminHandler) SuspendMID(w http.ResponseWriter, r *http.Request) {
	caller, req, ok := h.midRequest(w, r)
	if !ok {
		return
	}
	mid, err := h.health.SuspendMID(r.Context(), chi.URLParam(r, "id"), req.Reason, caller.ID)
	h.respondMID(w, r, mid, err)
}

// RecordChargeback handles POST /v1/admin/mids/{id}/chargebacks.
func (h *AdminHandler) RecordChargeback(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}
	mid, err := h.health.RecordChargeback(r.Context(), chi.URLParam(r, "id"), caller.ID)
	h.respondMID(w, r, mid, err)
}

// midRequest reads the optional reason body shared by pause and suspend.
func (h *AdminHandler) midRequest(w http.ResponseWriter, r *http.Request) (actor, midStatusRequest, bool) {
	caller, ok := mustActor(w, r)
	if !ok {
		return actor{}, midStatusRequest{}, false
	}
	var req midStatusRequest
	if r.ContentLength > 0 && !decodeRequest(w, r, &req) {
		return actor{}, midStatusRequest{}, false
	}
	return caller, req, true
}

func (h *AdminHandler) respondMID(w http.ResponseWriter, r *http.Request, mid models.MerchantID, err error) {
	if err != nil {
		respondServiceError(w, r, err, "mid/update-failed", "Failed to update merchant id")
		return
	}
	RespondJSON(w, http.StatusOK, mid)
}

type gatewayStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active maintenance disabled"`
}

// SetGatewayStatus handles PUT /v1/admin/gateways/{id}/status.
// Any status other than active pins the gateway against the health monitor.
func (h *AdminHandler) SetGatewayStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req gatewayStatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	gw, err := h.health.SetGatewayStatus(r.Context(), chi.URLParam(r, "id"), req.Status, caller.ID)
	if err != nil {
		respondServiceError(w, r, err, "gateway/update-failed", "Failed to update gateway")
		return
	}
	RespondJSON(w, http.StatusOK, gw)
}
