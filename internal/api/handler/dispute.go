package handler

import (
	"net/http"

	"github.com/ayo6706/payment-orchestrator/internal/models"
)

type createDisputeRequest struct {
	Reason   string   `json:"reason" validate:"required,max=1024"`
	Evidence []string `json:"evidence" validate:"max=50,dive,required,max=2048"`
}

// CreateDispute handles POST /v1/escrow/transactions/{id}/disputes.
// Either party of the hold may open a dispute.
func (h *EscrowHandler) CreateDispute(w http.ResponseWriter, r *http.Request) {
	caller, tx, ok := h.loadTransaction(w, r)
	if !ok {
		return
	}
	if !caller.allows(tx.FromUserID, tx.ToUserID) {
		forbid(w, r)
		return
	}
	var req createDisputeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	d, err := h.svc.CreateDispute(r.Context(), tx.ID, caller.ID, req.Reason, req.Evidence)
	if err != nil {
		respondServiceError(w, r, err, "escrow/dispute-create-failed", "Failed to create dispute")
		return
	}
	RespondJSON(w, http.StatusCreated, d)
}

// GetDispute handles GET /v1/escrow/disputes/{id}.
func (h *EscrowHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	caller, d, ok := h.loadDispute(w, r)
	if !ok {
		return
	}
	if !h.disputeParty(w, r, caller, d) {
		return
	}
	RespondJSON(w, http.StatusOK, d)
}

type addEvidenceRequest struct {
	Evidence string `json:"evidence" validate:"required,max=2048"`
}

// AddEvidence handles POST /v1/escrow/disputes/{id}/evidence.
func (h *EscrowHandler) AddEvidence(w http.ResponseWriter, r *http.Request) {
	caller, d, ok := h.loadDispute(w, r)
	if !ok {
		return
	}
	if !h.disputeParty(w, r, caller, d) {
		return
	}
	var req addEvidenceRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	out, err := h.svc.AddEvidence(r.Context(), d.ID, req.Evidence, caller.ID)
	if err != nil {
		respondServiceError(w, r, err, "escrow/evidence-failed", "Failed to add evidence")
		return
	}
	RespondJSON(w, http.StatusOK, out)
}

type resolveDisputeRequest struct {
	Resolution string `json:"resolution" validate:"required,oneof=refund release partial_refund"`
	Amount     int64  `json:"amount" validate:"required_if=Resolution partial_refund,gte=0"`
}

// ResolveDispute handles POST /v1/escrow/disputes/{id}/resolve (admin only).
func (h *EscrowHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id", "request/invalid-dispute-id")
	if !ok {
		return
	}
	var req resolveDisputeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	d, err := h.svc.ResolveDispute(r.Context(), id, req.Resolution, req.Amount, caller.ID)
	if err != nil {
		respondServiceError(w, r, err, "escrow/dispute-resolve-failed", "Failed to resolve dispute")
		return
	}
	RespondJSON(w, http.StatusOK, d)
}

type updateDisputeRequest struct {
	Status string `json:"status" validate:"required,oneof=investigating escalated"`
}

// UpdateDispute handles PATCH /v1/admin/escrow/disputes/{id}.
func (h *EscrowHandler) UpdateDispute(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "id", "request/invalid-dispute-id")
	if !ok {
		return
	}
	var req updateDisputeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	d, err := h.svc.UpdateDisputeStatus(r.Context(), id, req.Status, caller.ID)
	if err != nil {
		respondServiceError(w, r, err, "escrow/dispute-update-failed", "Failed to update dispute")
		return
	}
	RespondJSON(w, http.StatusOK, d)
}

func (h *EscrowHandler) loadDispute(w http.ResponseWriter, r *http.Request) (actor, models.EscrowDispute, bool) {
	caller, ok := mustActor(w, r)
	if !ok {
		return actor{}, models.EscrowDispute{}, false
	}
	id, ok := uuidParam(w, r, "id", "request/invalid-dispute-id")
	if !ok {
		return actor{}, models.EscrowDispute{}, false
	}
	d, err := h.svc.GetDispute(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "escrow/dispute-read-failed", "Failed to get dispute")
		return actor{}, models.EscrowDispute{}, false
	}
	return caller, d, true
}

// disputeParty writes a 403 unless the caller is an admin or a party of the disputed hold.
func (h *EscrowHandler) disputeParty(w http.ResponseWriter, r *http.Request, caller actor, d models.EscrowDispute) bool {
	if caller.Admin {
		return true
	}
	tx, err := h.svc.GetTransaction(r.Context(), d.TransactionID)
	if err != nil {
		respondServiceError(w, r, err, "escrow/read-failed", "Failed to get escrow transaction")
		return false
	}
	if !caller.allows(tx.FromUserID, tx.ToUserID) {
		forbid(w, r)
		return false
	}
	return true
}
