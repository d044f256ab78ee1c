package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/models"
)

// Version is reported by the health endpoints
const Version = "1.0.0"

var startTime = time.Now()

// Pinger checks a backing dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints
type HealthHandler struct {
	db         Pinger
	auditRoot  func() string
	searchMode func() string
	logger     *zap.SugaredLogger
}

// NewHealthHandler creates a new health handler. auditRoot and searchMode
// may be nil.
func NewHealthHandler(db Pinger, auditRoot, searchMode func() string, logger *zap.SugaredLogger) *HealthHandler {
	return &HealthHandler{db: db, auditRoot: auditRoot, searchMode: searchMode, logger: logger}
}

// Check handles GET /api/v1/health (liveness probe)
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(startTime).String(),
	})
}

// Ready handles GET /api/v1/health/ready (readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Warnw("Readiness check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, models.HealthStatus{
			Status:   "not ready",
			Version:  Version,
			Database: "disconnected",
		})
		return
	}

	status := models.HealthStatus{
		Status:   "ready",
		Version:  Version,
		Uptime:   time.Since(startTime).String(),
		Database: "connected",
	}
	if h.auditRoot != nil {
		status.AuditRoot = h.auditRoot()
	}
	if h.searchMode != nil {
		status.SearchMode = h.searchMode()
	}
	respondJSON(w, http.StatusOK, status)
}
