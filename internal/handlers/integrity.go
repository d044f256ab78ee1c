package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/services"
)

// IntegrityHandler handles Merkle tree endpoints over the audit log
type IntegrityHandler struct {
	svc    *services.IntegrityService
	logger *zap.SugaredLogger
}

// NewIntegrityHandler creates a new integrity handler
func NewIntegrityHandler(svc *services.IntegrityService, logger *zap.SugaredLogger) *IntegrityHandler {
	return &IntegrityHandler{svc: svc, logger: logger}
}

// GetRoot handles GET /api/v1/integrity/root
func (h *IntegrityHandler) GetRoot(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(actor(r))
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	w.Header().Set("X-Merkle-Root", status.Root)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"root":       status.Root,
		"leaf_count": status.LeafCount,
		"timestamp":  status.BuiltAt,
	})
}

// GetProof handles GET /api/v1/integrity/proof/{id}
func (h *IntegrityHandler) GetProof(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	proof, err := h.svc.ProofFor(actor(r), id)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, proof)
}

// Verify handles POST /api/v1/integrity/verify
func (h *IntegrityHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var proof models.MerkleProof
	if !decodeJSON(w, r, &proof) {
		return
	}
	if proof.LeafHash == "" || proof.Root == "" {
		badRequest(w, "leaf_hash and root are required")
		return
	}
	valid, current := h.svc.VerifyProof(proof)
	respondJSON(w, http.StatusOK, map[string]bool{
		"valid":   valid,
		"current": current,
	})
}
