package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/services"
)

// FeedbackHandler handles the admin review queue for security feedback
type FeedbackHandler struct {
	feedback *services.FeedbackService
	logger   *zap.SugaredLogger
}

// NewFeedbackHandler creates a new feedback handler
func NewFeedbackHandler(feedback *services.FeedbackService, logger *zap.SugaredLogger) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback, logger: logger}
}

// List handles GET /api/v1/feedback
func (h *FeedbackHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := models.FeedbackFilter{
		Status: models.FeedbackStatus(r.URL.Query().Get("status")),
	}
	var err error
	if filter.IncidentID, err = queryID(r, "incident_id"); err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	if filter.SecurityID, err = queryID(r, "security_id"); err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		respondErr(w, h.logger, r, err)
		return
	}

	items, err := h.feedback.List(r.Context(), actor(r), filter)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// Approve handles POST /api/v1/feedback/{id}/approve
func (h *FeedbackHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	fb, err := h.feedback.Approve(r.Context(), actor(r), id)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, fb)
}

// Reject handles POST /api/v1/feedback/{id}/reject
func (h *FeedbackHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	fb, err := h.feedback.Reject(r.Context(), actor(r), id)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, fb)
}

// ReporterApprove handles POST /api/v1/feedback/{id}/reporter-approve
func (h *FeedbackHandler) ReporterApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	fb, err := h.feedback.ReporterApprove(r.Context(), actor(r), id)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, fb)
}
