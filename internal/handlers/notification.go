package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/services"
)

// NotificationHandler handles the caller's notification inbox
type NotificationHandler struct {
	notifications *services.NotificationService
	logger        *zap.SugaredLogger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifications *services.NotificationService, logger *zap.SugaredLogger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, logger: logger}
}

// List handles GET /api/v1/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	items, err := h.notifications.List(r.Context(), a)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	unread, err := h.notifications.UnreadCount(r.Context(), a)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": items,
		"unread_count":  unread,
	})
}

// MarkRead handles POST /api/v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(r.Context(), actor(r), id); err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /api/v1/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkAllRead(r.Context(), actor(r))
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// Preferences handles GET /api/v1/notifications/preferences
func (h *NotificationHandler) Preferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.notifications.Preferences(r.Context(), actor(r))
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, prefs)
}

// UpdatePreferences handles PUT /api/v1/notifications/preferences
func (h *NotificationHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req models.NotificationPreferences
	if !decodeJSON(w, r, &req) {
		return
	}
	prefs, err := h.notifications.UpdatePreferences(r.Context(), actor(r), req)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, prefs)
}
