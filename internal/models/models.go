// Package models defines the data structures used across the application.
// These map to the PostgreSQL schema created by the embedded migrations.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role governs which actions a user may perform
type Role string

const (
	RoleResident   Role = "resident"
	RoleSecurity   Role = "security"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleResident, RoleSecurity, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin is true for admin and super_admin
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// IncidentStatus is the incident's position in its handling workflow
type IncidentStatus string

const (
	StatusReported          IncidentStatus = "reported"
	StatusAssigned          IncidentStatus = "assigned"
	StatusInProgress        IncidentStatus = "in_progress"
	StatusFeedbackPending   IncidentStatus = "feedback_pending"
	StatusFeedbackSubmitted IncidentStatus = "feedback_submitted"
	StatusFeedbackApproved  IncidentStatus = "feedback_approved"
	StatusResolved          IncidentStatus = "resolved"
	StatusClosed            IncidentStatus = "closed"
)

// AllStatuses lists the lifecycle in order
var AllStatuses = []IncidentStatus{
	StatusReported,
	StatusAssigned,
	StatusInProgress,
	StatusFeedbackPending,
	StatusFeedbackSubmitted,
	StatusFeedbackApproved,
	StatusResolved,
	StatusClosed,
}

// Valid reports whether s is part of the lifecycle
func (s IncidentStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// InFeedbackReview reports whether submitted feedback is awaiting an admin
// decision in this status
func (s IncidentStatus) InFeedbackReview() bool {
	return s == StatusFeedbackPending || s == StatusFeedbackSubmitted
}

// Priority of an incident
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Level maps the priority onto the integer scale used by notifications
func (p Priority) Level() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// FeedbackStatus tracks a feedback row through admin review
type FeedbackStatus string

const (
	FeedbackPending   FeedbackStatus = "pending"
	FeedbackSubmitted FeedbackStatus = "submitted"
	FeedbackApproved  FeedbackStatus = "approved"
	FeedbackRejected  FeedbackStatus = "rejected"
)

// Valid reports whether s is a known feedback status
func (s FeedbackStatus) Valid() bool {
	switch s {
	case FeedbackPending, FeedbackSubmitted, FeedbackApproved, FeedbackRejected:
		return true
	}
	return false
}

// NotificationType classifies per-user messages
type NotificationType string

const (
	NotifyIncidentCreated   NotificationType = "incident_created"
	NotifyIncidentAssigned  NotificationType = "incident_assigned"
	NotifyIncidentUpdated   NotificationType = "incident_updated"
	NotifyStatusChanged     NotificationType = "status_changed"
	NotifyCommentAdded      NotificationType = "comment_added"
	NotifyFeedbackSubmitted NotificationType = "feedback_submitted"
	NotifyFeedbackApproved  NotificationType = "feedback_approved"
	NotifyIncidentResolved  NotificationType = "incident_resolved"
)

// Profile is the identity record of a user
type Profile struct {
	ID                      uuid.UUID       `json:"id" db:"id"`
	Username                string          `json:"username" db:"username"`
	FullName                string          `json:"full_name,omitempty" db:"full_name"`
	Email                   string          `json:"email" db:"email"`
	Role                    Role            `json:"role" db:"role"`
	AvatarURL               string          `json:"avatar_url,omitempty" db:"avatar_url"`
	Phone                   string          `json:"phone,omitempty" db:"phone"`
	Address                 string          `json:"address,omitempty" db:"address"`
	NotificationPreferences json.RawMessage `json:"notification_preferences,omitempty" db:"notification_preferences"`
	IsActive                bool            `json:"is_active" db:"is_active"`
	LastSeen                *time.Time      `json:"last_seen,omitempty" db:"last_seen"`
	CreatedAt               time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at" db:"updated_at"`
}

// Actor returns the subset of the profile used for authorization
func (p *Profile) Actor() Actor {
	return Actor{ID: p.ID, Role: p.Role, IsActive: p.IsActive}
}

// DisplayName prefers the full name over the username
func (p *Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Username
}

// Actor is the authenticated user performing an operation
type Actor struct {
	ID       uuid.UUID `json:"id"`
	Role     Role      `json:"role"`
	IsActive bool      `json:"is_active"`
}

// NotificationPreferences is stored as JSON on the profile
type NotificationPreferences struct {
	Push           bool `json:"push"`
	Email          bool `json:"email"`
	IncidentAlerts bool `json:"incident_alerts"`
	StatusUpdates  bool `json:"status_updates"`
	WeeklySummary  bool `json:"weekly_summary"`
}

// DefaultNotificationPreferences applies when a profile has none stored
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		Push:           true,
		Email:          true,
		IncidentAlerts: true,
		StatusUpdates:  true,
	}
}

// Preferences decodes the stored preferences over the defaults
func (p *Profile) Preferences() NotificationPreferences {
	prefs := DefaultNotificationPreferences()
	if len(p.NotificationPreferences) > 0 {
		_ = json.Unmarshal(p.NotificationPreferences, &prefs)
	}
	return prefs
}

// Incident is a reported security event
type Incident struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	Title       string         `json:"title" db:"title"`
	Description string         `json:"description" db:"description"`
	LocationLat float64        `json:"location_lat" db:"location_lat"`
	LocationLng float64        `json:"location_lng" db:"location_lng"`
	Address     string         `json:"address,omitempty" db:"address"`
	Status      IncidentStatus `json:"status" db:"status"`
	Priority    Priority       `json:"priority" db:"priority"`
	ReporterID  *uuid.UUID     `json:"reporter_id,omitempty" db:"reporter_id"`
	AssignedTo  *uuid.UUID     `json:"assigned_to,omitempty" db:"assigned_to"`
	AssignedBy  *uuid.UUID     `json:"assigned_by,omitempty" db:"assigned_by"`
	AssignedAt  *time.Time     `json:"assigned_at,omitempty" db:"assigned_at"`
	Category    string         `json:"category" db:"category"`
	Tags        []string       `json:"tags,omitempty" db:"tags"`
	IsAnonymous bool           `json:"is_anonymous" db:"is_anonymous"`
	IsVerified  bool           `json:"is_verified" db:"is_verified"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// Clone returns a copy that shares no mutable state with i
func (i Incident) Clone() Incident {
	out := i
	out.ReporterID = cloneID(i.ReporterID)
	out.AssignedTo = cloneID(i.AssignedTo)
	out.AssignedBy = cloneID(i.AssignedBy)
	out.AssignedAt = cloneTime(i.AssignedAt)
	out.ResolvedAt = cloneTime(i.ResolvedAt)
	if i.Tags != nil {
		out.Tags = append([]string(nil), i.Tags...)
	}
	return out
}

// IsAssignedTo reports whether the incident currently points at userID
func (i Incident) IsAssignedTo(userID uuid.UUID) bool {
	return i.AssignedTo != nil && *i.AssignedTo == userID
}

// IsReportedBy reports whether userID filed the incident
func (i Incident) IsReportedBy(userID uuid.UUID) bool {
	return i.ReporterID != nil && *i.ReporterID == userID
}

// IncidentAssignment is one row of the append-only assignment log
type IncidentAssignment struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	IncidentID uuid.UUID      `json:"incident_id" db:"incident_id"`
	AssignedTo uuid.UUID      `json:"assigned_to" db:"assigned_to"`
	AssignedBy uuid.UUID      `json:"assigned_by" db:"assigned_by"`
	AssignedAt time.Time      `json:"assigned_at" db:"assigned_at"`
	Notes      string         `json:"notes,omitempty" db:"notes"`
	Status     IncidentStatus `json:"status" db:"status"`
}

// IncidentFeedback is security personnel's post-handling report
type IncidentFeedback struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	IncidentID         uuid.UUID      `json:"incident_id" db:"incident_id"`
	SecurityID         uuid.UUID      `json:"security_id" db:"security_id"`
	FeedbackText       string         `json:"feedback_text" db:"feedback_text"`
	Status             FeedbackStatus `json:"status" db:"status"`
	SubmittedAt        time.Time      `json:"submitted_at" db:"submitted_at"`
	ApprovedBy         *uuid.UUID     `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt         *time.Time     `json:"approved_at,omitempty" db:"approved_at"`
	ApprovedByReporter bool           `json:"approved_by_reporter" db:"approved_by_reporter"`
	ReporterApprovedAt *time.Time     `json:"reporter_approved_at,omitempty" db:"reporter_approved_at"`
	AdminApprovedAt    *time.Time     `json:"admin_approved_at,omitempty" db:"admin_approved_at"`
	AdminApprovedBy    *uuid.UUID     `json:"admin_approved_by,omitempty" db:"admin_approved_by"`
}

// IncidentPhoto references an uploaded image in object storage
type IncidentPhoto struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	IncidentID uuid.UUID  `json:"incident_id" db:"incident_id"`
	PhotoURL   string     `json:"photo_url" db:"photo_url"`
	FileName   string     `json:"file_name,omitempty" db:"file_name"`
	FileSize   int64      `json:"file_size,omitempty" db:"file_size"`
	UploadedBy *uuid.UUID `json:"uploaded_by,omitempty" db:"uploaded_by"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Comment is threaded free text attached to an incident
type Comment struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	IncidentID uuid.UUID  `json:"incident_id" db:"incident_id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	Content    string     `json:"content" db:"content"`
	IsInternal bool       `json:"is_internal" db:"is_internal"`
	ParentID   *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	AuthorName string     `json:"author_name,omitempty"`
	AuthorRole Role       `json:"author_role,omitempty"`
}

// Notification is a per-user message
type Notification struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	UserID         uuid.UUID        `json:"user_id" db:"user_id"`
	IncidentID     *uuid.UUID       `json:"incident_id,omitempty" db:"incident_id"`
	Type           NotificationType `json:"type" db:"type"`
	Title          string           `json:"title" db:"title"`
	Message        string           `json:"message" db:"message"`
	IsRead         bool             `json:"is_read" db:"is_read"`
	Priority       int              `json:"priority" db:"priority"`
	ActionRequired bool             `json:"action_required" db:"action_required"`
	ActionURL      string           `json:"action_url,omitempty" db:"action_url"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// AuditLog captures before/after values of a mutation
type AuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Action    string          `json:"action" db:"action"`
	TableName string          `json:"table_name" db:"table_name"`
	RecordID  *uuid.UUID      `json:"record_id,omitempty" db:"record_id"`
	OldValues json.RawMessage `json:"old_values,omitempty" db:"old_values"`
	NewValues json.RawMessage `json:"new_values,omitempty" db:"new_values"`
	IPAddress string          `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string          `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// MerkleProof contains the Merkle proof for a specific audit entry
type MerkleProof struct {
	LeafHash string      `json:"leaf_hash"`
	Root     string      `json:"root"`
	Proof    []ProofStep `json:"proof"`
	Index    int         `json:"index"`
	Verified bool        `json:"verified"`
}

// ProofStep is a single step in a Merkle proof path
type ProofStep struct {
	Hash     string `json:"hash"`
	Position string `json:"position"` // "left" | "right"
}

// AnalyticsTrend represents aggregated incident counts per day
type AnalyticsTrend struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// CategoryDistribution for pie/bar charts
type CategoryDistribution struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// DashboardStats is the community dashboard summary
type DashboardStats struct {
	TotalIncidents    int        `json:"total_incidents"`
	ActiveIncidents   int        `json:"active_incidents"`
	ResolvedIncidents int        `json:"resolved_incidents"`
	RecentIncidents   []Incident `json:"recent_incidents"`
}

// UserStats summarizes one user's activity for their profile page
type UserStats struct {
	IncidentsReported int       `json:"incidents_reported"`
	CommentsPosted    int       `json:"comments_posted"`
	MemberSince       time.Time `json:"member_since"`
	AccountAgeDays    int       `json:"account_age_days"`
}

// AdminStats is the admin panel summary
type AdminStats struct {
	TotalIncidents        int `json:"total_incidents"`
	UnassignedIncidents   int `json:"unassigned_incidents"`
	ActiveSecurity        int `json:"active_security"`
	PendingFeedback       int `json:"pending_feedback"`
	TotalUsers            int `json:"total_users"`
	ResolvedIncidents     int `json:"resolved_incidents"`
	HighPriorityIncidents int `json:"high_priority_incidents"`
	RecentActivity        int `json:"recent_activity"`
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime,omitempty"`
	Database   string `json:"database,omitempty"`
	AuditRoot  string `json:"audit_root,omitempty"`
	SearchMode string `json:"search_mode,omitempty"`
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
