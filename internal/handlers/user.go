package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/services"
)

// UserHandler handles the caller's profile and admin user management
type UserHandler struct {
	profiles *services.ProfileService
	logger   *zap.SugaredLogger
}

// NewUserHandler creates a new user handler
func NewUserHandler(profiles *services.ProfileService, logger *zap.SugaredLogger) *UserHandler {
	return &UserHandler{profiles: profiles, logger: logger}
}

// Me handles GET /api/v1/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Me(r.Context(), actor(r))
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// UpdateMe handles PATCH /api/v1/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req models.ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.profiles.UpdateSelf(r.Context(), actor(r), req)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// List handles GET /api/v1/users?role=security,admin&active=true&q=
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ProfileFilter{
		ActiveOnly: q.Get("active") == "true",
		Search:     strings.TrimSpace(q.Get("q")),
	}
	if roles := q.Get("role"); roles != "" {
		for _, role := range strings.Split(roles, ",") {
			filter.Roles = append(filter.Roles, models.Role(strings.TrimSpace(role)))
		}
	}

	users, err := h.profiles.ListUsers(r.Context(), actor(r), filter)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// Security handles GET /api/v1/users/security
func (h *UserHandler) Security(w http.ResponseWriter, r *http.Request) {
	users, err := h.profiles.ListSecurity(r.Context(), actor(r))
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// SetRole handles PUT /api/v1/users/{id}/role
func (h *UserHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.RoleChange
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.profiles.SetRole(r.Context(), actor(r), id, req.Role)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// SetActive handles PUT /api/v1/users/{id}/active
func (h *UserHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.ActiveChange
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.profiles.SetActive(r.Context(), actor(r), id, req.IsActive)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
