// Package handlers contains HTTP request handlers for the incident API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/auth"
	"github.com/neighborwatch/incident-server/internal/models"
)

const maxBodyBytes = 1 << 20

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, code apperr.Kind, message string) {
	respondJSON(w, status, map[string]string{"error": message, "code": string(code)})
}

// respondErr maps a service error onto its status and code. Server-side
// failures are logged and their detail withheld.
func respondErr(w http.ResponseWriter, logger *zap.SugaredLogger, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Errorw("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	respondError(w, status, apperr.KindOf(err), apperr.MessageOf(err))
}

func badRequest(w http.ResponseWriter, message string) {
	respondError(w, http.StatusBadRequest, apperr.KindValidation, message)
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			badRequest(w, "Request body is required")
			return false
		}
		badRequest(w, "Invalid request body")
		return false
	}
	return true
}

// actor returns the authenticated caller. Routes using it sit behind
// RequireAuth, so a missing profile means the route was wired wrong.
func actor(r *http.Request) models.Actor {
	p, _ := auth.ProfileFrom(r.Context())
	return p.Actor()
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.KindValidation, "%s must be an integer", name)
	}
	return n, nil
}

func queryFloat(r *http.Request, name string) (float64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, apperr.Newf(apperr.KindValidation, "%s must be a number", name)
	}
	return f, true, nil
}

func queryID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Newf(apperr.KindValidation, "%s must be a uuid", name)
	}
	return &id, nil
}
