// Package store is the persistence boundary. Services depend on the Store
// interface; PostgresStore implements it with pgx.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/neighborwatch/incident-server/internal/models"
)

// IncidentCounts aggregates incident totals for the stats endpoints
type IncidentCounts struct {
	Total        int
	Active       int
	Resolved     int
	Unassigned   int
	HighPriority int
	Recent       int
}

// UserActivity counts one user's contributions
type UserActivity struct {
	IncidentsReported int
	CommentsPosted    int
}

// Store is the row-level contract over the eight application tables.
// Methods called on the Store passed to a WithTx callback run inside that
// transaction.
type Store interface {
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx Store) error) error

	GetProfile(ctx context.Context, id uuid.UUID) (models.Profile, error)
	ListProfiles(ctx context.Context, filter models.ProfileFilter) ([]models.Profile, error)
	UpdateProfile(ctx context.Context, p models.Profile) error
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateIncident(ctx context.Context, inc models.Incident) error
	GetIncident(ctx context.Context, id uuid.UUID) (models.Incident, error)
	// LockIncident reads the incident and holds a row lock until the
	// surrounding transaction ends.
	LockIncident(ctx context.Context, id uuid.UUID) (models.Incident, error)
	UpdateIncident(ctx context.Context, inc models.Incident) error
	ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error)

	CreateAssignment(ctx context.Context, a models.IncidentAssignment) error
	ListAssignments(ctx context.Context, incidentID uuid.UUID) ([]models.IncidentAssignment, error)

	CreateFeedback(ctx context.Context, f models.IncidentFeedback) error
	GetFeedback(ctx context.Context, id uuid.UUID) (models.IncidentFeedback, error)
	LockFeedback(ctx context.Context, id uuid.UUID) (models.IncidentFeedback, error)
	UpdateFeedback(ctx context.Context, f models.IncidentFeedback) error
	ListFeedback(ctx context.Context, filter models.FeedbackFilter) ([]models.IncidentFeedback, error)

	CreatePhoto(ctx context.Context, p models.IncidentPhoto) error
	ListPhotos(ctx context.Context, incidentID uuid.UUID) ([]models.IncidentPhoto, error)

	CreateComment(ctx context.Context, c models.Comment) error
	GetComment(ctx context.Context, id uuid.UUID) (models.Comment, error)
	ListComments(ctx context.Context, incidentID uuid.UUID, includeInternal bool) ([]models.Comment, error)

	CreateNotification(ctx context.Context, n models.Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error)
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)

	CreateAuditLog(ctx context.Context, entry models.AuditLog) error
	ListAuditLogs(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error)

	CountIncidents(ctx context.Context, since time.Time) (IncidentCounts, error)
	CountProfiles(ctx context.Context, filter models.ProfileFilter) (int, error)
	CountFeedback(ctx context.Context, status models.FeedbackStatus) (int, error)
	CountUserActivity(ctx context.Context, userID uuid.UUID) (UserActivity, error)
	CategoryDistribution(ctx context.Context) ([]models.CategoryDistribution, error)
	DailyTrends(ctx context.Context, since time.Time) ([]models.AnalyticsTrend, error)
}
