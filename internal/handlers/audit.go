package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/services"
)

// AuditHandler exposes the audit trail to admins
type AuditHandler struct {
	audit  *services.AuditService
	logger *zap.SugaredLogger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audit *services.AuditService, logger *zap.SugaredLogger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// Recent handles GET /api/v1/audit?limit=50
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	entries, err := h.audit.Recent(r.Context(), actor(r), limit)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// ForRecord handles GET /api/v1/audit/{table}/{id}
func (h *AuditHandler) ForRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.audit.ForRecord(r.Context(), actor(r), chi.URLParam(r, "table"), id)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
