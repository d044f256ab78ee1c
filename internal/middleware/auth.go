package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/auth"
	"github.com/neighborwatch/incident-server/internal/models"
)

// ProfileResolver loads the profile behind a verified token subject
type ProfileResolver interface {
	Authenticate(ctx context.Context, id uuid.UUID) (models.Profile, error)
}

// RequireAuth validates the bearer token, loads the caller's profile and
// rejects deactivated accounts
func RequireAuth(secret []byte, profiles ProfileResolver, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "Authorization required")
				return
			}

			userID, err := auth.ParseToken(secret, strings.TrimSpace(token))
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "Token expired"
				}
				writeError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), msg)
				return
			}

			profile, err := profiles.Authenticate(r.Context(), userID)
			if err != nil {
				kind := apperr.KindOf(err)
				if kind != apperr.KindUnauthorized {
					logger.Errorw("Failed to load profile", "user_id", userID, "error", err)
				}
				writeError(w, apperr.HTTPStatus(err), string(kind), apperr.MessageOf(err))
				return
			}
			if !profile.IsActive {
				writeError(w, http.StatusForbidden, string(apperr.KindForbidden), "Account is deactivated")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithProfile(r.Context(), profile)))
		})
	}
}
