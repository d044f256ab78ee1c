package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/services"
)

// StatsHandler serves dashboard aggregates
type StatsHandler struct {
	stats  *services.StatsService
	logger *zap.SugaredLogger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(stats *services.StatsService, logger *zap.SugaredLogger) *StatsHandler {
	return &StatsHandler{stats: stats, logger: logger}
}

// Dashboard handles GET /api/v1/stats/dashboard
func (h *StatsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	out, err := h.stats.Dashboard(r.Context(), actor(r))
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// User handles GET /api/v1/me/stats
func (h *StatsHandler) User(w http.ResponseWriter, r *http.Request) {
	out, err := h.stats.User(r.Context(), actor(r))
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// Admin handles GET /api/v1/stats/admin
func (h *StatsHandler) Admin(w http.ResponseWriter, r *http.Request) {
	out, err := h.stats.Admin(r.Context(), actor(r))
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// Categories handles GET /api/v1/stats/categories
func (h *StatsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	out, err := h.stats.Categories(r.Context(), actor(r))
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// Trends handles GET /api/v1/stats/trends?days=30
func (h *StatsHandler) Trends(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	out, err := h.stats.Trends(r.Context(), actor(r), days)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}
