package models

import (
	"github.com/google/uuid"
)

// IncidentReport is the request body for filing a new incident
type IncidentReport struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Priority    Priority `json:"priority"`
	Address     string   `json:"address,omitempty"`
	LocationLat float64  `json:"location_lat"`
	LocationLng float64  `json:"location_lng"`
	IsAnonymous bool     `json:"is_anonymous"`
	Tags        []string `json:"tags,omitempty"`
}

// BoundingBox restricts incident listings to a map viewport
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether the point lies inside the box (edges inclusive)
func (b BoundingBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// IncidentFilter narrows incident listings
type IncidentFilter struct {
	IDs        []uuid.UUID
	Status     IncidentStatus
	Priority   Priority
	Category   string
	Search     string
	AssignedTo *uuid.UUID
	ReporterID *uuid.UUID
	Unassigned bool
	Bounds     *BoundingBox
	Limit      int
	Offset     int
}

// TransitionRequest asks for a status change
type TransitionRequest struct {
	Status IncidentStatus `json:"status"`
}

// AssignRequest routes one incident to a security user
type AssignRequest struct {
	AssigneeID uuid.UUID `json:"assignee_id"`
	Notes      string    `json:"notes,omitempty"`
}

// BulkAssignRequest routes many incidents to a security user
type BulkAssignRequest struct {
	IncidentIDs []uuid.UUID `json:"incident_ids"`
	AssigneeID  uuid.UUID   `json:"assignee_id"`
	Notes       string      `json:"notes,omitempty"`
}

// FeedbackSubmission is security's report on a handled incident
type FeedbackSubmission struct {
	FeedbackText string `json:"feedback_text"`
}

// FeedbackFilter narrows feedback listings
type FeedbackFilter struct {
	Status     FeedbackStatus
	IncidentID *uuid.UUID
	SecurityID *uuid.UUID
	Limit      int
}

// CommentInput is the request body for adding a comment
type CommentInput struct {
	Content    string     `json:"content"`
	IsInternal bool       `json:"is_internal"`
	ParentID   *uuid.UUID `json:"parent_id,omitempty"`
}

// ProfileUpdate holds the self-editable profile fields; nil leaves a field as is
type ProfileUpdate struct {
	FullName  *string `json:"full_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Address   *string `json:"address,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// ProfileFilter narrows user listings
type ProfileFilter struct {
	Roles      []Role
	ActiveOnly bool
	Search     string
}

// RoleChange is the admin request to change a user's role
type RoleChange struct {
	Role Role `json:"role"`
}

// ActiveChange is the admin request to (de)activate a user
type ActiveChange struct {
	IsActive bool `json:"is_active"`
}

// AuditFilter narrows audit log listings
type AuditFilter struct {
	TableName string
	RecordID  *uuid.UUID
	Ascending bool
	Limit     int
}
