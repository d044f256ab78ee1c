package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/lifecycle"
	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/rbac"
	"github.com/neighborwatch/incident-server/internal/search"
	"github.com/neighborwatch/incident-server/internal/store"
)

const (
	defaultIncidentLimit = 50
	maxIncidentLimit     = 200
	maxTitleLength       = 200
	maxDescriptionLength = 5000
	maxBulkAssign        = 100
)

// Categories incidents may be filed under
var Categories = []string{
	"theft",
	"assault",
	"vandalism",
	"suspicious_activity",
	"break_in",
	"drug_activity",
	"noise_complaint",
	"other",
}

func validCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Index is the full-text index committed incidents are written to
type Index interface {
	IndexIncident(inc models.Incident)
	Search(ctx context.Context, q search.Query) (search.Result, error)
}

// IncidentService owns reporting, listing, status changes and assignment
type IncidentService struct {
	store    store.Store
	policy   *rbac.Policy
	machine  *lifecycle.Machine
	audit    *AuditService
	notifier *NotificationService
	indexer  Index
	logger   *zap.SugaredLogger
}

// NewIncidentService creates a new incident service. indexer may be nil.
func NewIncidentService(
	st store.Store,
	policy *rbac.Policy,
	machine *lifecycle.Machine,
	audit *AuditService,
	notifier *NotificationService,
	indexer Index,
	logger *zap.SugaredLogger,
) *IncidentService {
	return &IncidentService{
		store:    st,
		policy:   policy,
		machine:  machine,
		audit:    audit,
		notifier: notifier,
		indexer:  indexer,
		logger:   logger,
	}
}

func (s *IncidentService) index(incidents ...models.Incident) {
	if s.indexer == nil {
		return
	}
	for _, inc := range incidents {
		s.indexer.IndexIncident(inc)
	}
}

func validateReport(in *models.IncidentReport) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Address = strings.TrimSpace(in.Address)
	in.Category = strings.TrimSpace(in.Category)

	switch {
	case in.Title == "":
		return apperr.New(apperr.KindValidation, "title is required")
	case len(in.Title) > maxTitleLength:
		return apperr.Newf(apperr.KindValidation, "title must be at most %d characters", maxTitleLength)
	case in.Description == "":
		return apperr.New(apperr.KindValidation, "description is required")
	case len(in.Description) > maxDescriptionLength:
		return apperr.Newf(apperr.KindValidation, "description must be at most %d characters", maxDescriptionLength)
	case in.LocationLat < -90 || in.LocationLat > 90:
		return apperr.New(apperr.KindValidation, "location_lat must be between -90 and 90")
	case in.LocationLng < -180 || in.LocationLng > 180:
		return apperr.New(apperr.KindValidation, "location_lng must be between -180 and 180")
	}

	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		return apperr.Newf(apperr.KindValidation, "unknown priority %q", in.Priority)
	}
	if in.Category == "" {
		in.Category = "other"
	}
	if !validCategory(in.Category) {
		return apperr.Newf(apperr.KindValidation, "unknown category %q", in.Category)
	}

	tags := in.Tags[:0]
	for _, t := range in.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	in.Tags = tags
	return nil
}

// Report files a new incident in status reported
func (s *IncidentService) Report(ctx context.Context, actor models.Actor, in models.IncidentReport) (models.Incident, error) {
	if !s.policy.HasPermission(actor, rbac.ActionIncidentCreate, rbac.Target{}) {
		return models.Incident{}, apperr.New(apperr.KindForbidden, "not allowed to report incidents")
	}
	if err := validateReport(&in); err != nil {
		return models.Incident{}, err
	}

	now := time.Now().UTC()
	reporter := actor.ID
	inc := models.Incident{
		ID:          uuid.New(),
		Title:       in.Title,
		Description: in.Description,
		LocationLat: in.LocationLat,
		LocationLng: in.LocationLng,
		Address:     in.Address,
		Status:      models.StatusReported,
		Priority:    in.Priority,
		ReporterID:  &reporter,
		Category:    in.Category,
		Tags:        in.Tags,
		IsAnonymous: in.IsAnonymous,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateIncident(ctx, inc); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, AuditEntry{
			Actor:     actor.ID,
			Action:    AuditCreate,
			TableName: "incidents",
			RecordID:  inc.ID,
			New:       inc,
		}, now); err != nil {
			return err
		}
		return s.notifier.NotifyAdmins(ctx, tx, actor.ID, Message{
			Type:           models.NotifyIncidentCreated,
			Incident:       &inc,
			Title:          "New incident reported",
			Body:           fmt.Sprintf("%s (%s priority)", inc.Title, inc.Priority),
			ActionRequired: true,
		}, now)
	})
	if err != nil {
		return models.Incident{}, err
	}

	s.logger.Infow("Incident reported", "incident_id", inc.ID, "category", inc.Category, "priority", inc.Priority)
	s.index(inc)
	return inc, nil
}

// redact hides the reporter of anonymous incidents from everyone but the
// reporter and admins
func (s *IncidentService) redact(actor models.Actor, inc models.Incident) models.Incident {
	if !inc.IsAnonymous || actor.Role.IsAdmin() || inc.IsReportedBy(actor.ID) {
		return inc
	}
	inc.ReporterID = nil
	return inc
}

// Get returns one incident
func (s *IncidentService) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (models.Incident, error) {
	if !s.policy.HasPermission(actor, rbac.ActionIncidentRead, rbac.Target{}) {
		return models.Incident{}, apperr.ErrForbidden
	}
	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}
	return s.redact(actor, inc), nil
}

// List returns incidents matching filter, newest first
func (s *IncidentService) List(ctx context.Context, actor models.Actor, filter models.IncidentFilter) ([]models.Incident, error) {
	if !s.policy.HasPermission(actor, rbac.ActionIncidentRead, rbac.Target{}) {
		return nil, apperr.ErrForbidden
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "unknown status %q", filter.Status)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "unknown priority %q", filter.Priority)
	}
	if b := filter.Bounds; b != nil && (b.MinLat > b.MaxLat || b.MinLng > b.MaxLng) {
		return nil, apperr.New(apperr.KindValidation, "bounding box minimum exceeds maximum")
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Limit = clampLimit(filter.Limit, defaultIncidentLimit, maxIncidentLimit)

	incidents, err := s.store.ListIncidents(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]models.Incident, len(incidents))
	for i, inc := range incidents {
		out[i] = s.redact(actor, inc)
	}
	return out, nil
}

// Transition moves an incident to target through the lifecycle machine
func (s *IncidentService) Transition(ctx context.Context, actor models.Actor, id uuid.UUID, target models.IncidentStatus) (models.Incident, error) {
	var updated models.Incident
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		inc, err := tx.LockIncident(ctx, id)
		if err != nil {
			return err
		}
		updated, err = s.applyTransition(ctx, tx, actor, inc, target, time.Now().UTC())
		return err
	})
	if err != nil {
		return models.Incident{}, err
	}

	s.logger.Infow("Incident status changed", "incident_id", id, "status", updated.Status, "actor", actor.ID)
	s.index(updated)
	return s.redact(actor, updated), nil
}

// applyTransition runs the machine, persists the result and records the
// audit row and notifications, all through tx.
func (s *IncidentService) applyTransition(ctx context.Context, tx store.Store, actor models.Actor, inc models.Incident, target models.IncidentStatus, now time.Time) (models.Incident, error) {
	next, err := s.moveStatus(ctx, tx, actor, inc, target, now)
	if err != nil {
		return models.Incident{}, err
	}
	if err := s.notifyStatus(ctx, tx, actor, next, now); err != nil {
		return models.Incident{}, err
	}
	return next, nil
}

// moveStatus is applyTransition without the notifications, for the
// intermediate steps of a multi-step walk
func (s *IncidentService) moveStatus(ctx context.Context, tx store.Store, actor models.Actor, inc models.Incident, target models.IncidentStatus, now time.Time) (models.Incident, error) {
	next, err := s.machine.Transition(inc, target, actor, now)
	if err != nil {
		return models.Incident{}, err
	}
	if err := tx.UpdateIncident(ctx, next); err != nil {
		return models.Incident{}, err
	}
	if err := s.audit.Record(ctx, tx, AuditEntry{
		Actor:     actor.ID,
		Action:    AuditStatusChange,
		TableName: "incidents",
		RecordID:  inc.ID,
		Old:       map[string]any{"status": inc.Status},
		New:       map[string]any{"status": next.Status},
	}, now); err != nil {
		return models.Incident{}, err
	}
	if next.Status == models.StatusInProgress && inc.Status.InFeedbackReview() {
		if err := s.withdrawFeedback(ctx, tx, actor, inc.ID, now); err != nil {
			return models.Incident{}, err
		}
	}
	return next, nil
}

// withdrawFeedback rejects the submissions still open on an incident that
// went back to in_progress, so none of them can be approved later
func (s *IncidentService) withdrawFeedback(ctx context.Context, tx store.Store, actor models.Actor, incidentID uuid.UUID, now time.Time) error {
	open, err := tx.ListFeedback(ctx, models.FeedbackFilter{Status: models.FeedbackSubmitted, IncidentID: &incidentID})
	if err != nil {
		return err
	}
	for _, fb := range open {
		fb.Status = models.FeedbackRejected
		if err := tx.UpdateFeedback(ctx, fb); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, AuditEntry{
			Actor:     actor.ID,
			Action:    AuditFeedbackNo,
			TableName: "incident_feedback",
			RecordID:  fb.ID,
			Old:       map[string]any{"status": models.FeedbackSubmitted},
			New:       map[string]any{"status": fb.Status, "reason": "incident returned to in_progress"},
		}, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *IncidentService) notifyStatus(ctx context.Context, tx store.Store, actor models.Actor, inc models.Incident, now time.Time) error {
	msg := Message{
		Type:     models.NotifyStatusChanged,
		Incident: &inc,
		Title:    "Incident status updated",
		Body:     fmt.Sprintf("%s is now %s", inc.Title, strings.ReplaceAll(string(inc.Status), "_", " ")),
	}
	if inc.Status == models.StatusResolved {
		msg.Type = models.NotifyIncidentResolved
		msg.Title = "Incident resolved"
	}

	if inc.ReporterID != nil && *inc.ReporterID != actor.ID {
		if err := s.notifier.Notify(ctx, tx, *inc.ReporterID, msg, now); err != nil {
			return err
		}
	}
	if inc.AssignedTo != nil && *inc.AssignedTo != actor.ID {
		if err := s.notifier.Notify(ctx, tx, *inc.AssignedTo, msg, now); err != nil {
			return err
		}
	}
	return nil
}

// Assign routes an incident to an active security user. Reassigning an
// incident that is already assigned or in progress leaves it assigned.
func (s *IncidentService) Assign(ctx context.Context, actor models.Actor, id uuid.UUID, req models.AssignRequest) (models.Incident, error) {
	if !s.policy.HasPermission(actor, rbac.ActionIncidentAssign, rbac.Target{}) {
		return models.Incident{}, apperr.New(apperr.KindForbidden, "only admins may assign incidents")
	}

	var updated models.Incident
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		assignee, err := s.loadAssignee(ctx, tx, req.AssigneeID)
		if err != nil {
			return err
		}
		updated, err = s.assignInTx(ctx, tx, actor, id, assignee, req.Notes, time.Now().UTC())
		return err
	})
	if err != nil {
		return models.Incident{}, err
	}

	s.logger.Infow("Incident assigned", "incident_id", id, "assignee", req.AssigneeID, "actor", actor.ID)
	s.index(updated)
	return updated, nil
}

// BulkAssign assigns every incident in req or none of them
func (s *IncidentService) BulkAssign(ctx context.Context, actor models.Actor, req models.BulkAssignRequest) ([]models.Incident, error) {
	if !s.policy.HasPermission(actor, rbac.ActionIncidentAssign, rbac.Target{}) {
		return nil, apperr.New(apperr.KindForbidden, "only admins may assign incidents")
	}

	ids := make([]uuid.UUID, 0, len(req.IncidentIDs))
	seen := make(map[uuid.UUID]bool, len(req.IncidentIDs))
	for _, id := range req.IncidentIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, apperr.New(apperr.KindValidation, "incident_ids is required")
	}
	if len(ids) > maxBulkAssign {
		return nil, apperr.Newf(apperr.KindValidation, "at most %d incidents per bulk assignment", maxBulkAssign)
	}
	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		notes = "Bulk assignment"
	}

	updated := make([]models.Incident, 0, len(ids))
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		assignee, err := s.loadAssignee(ctx, tx, req.AssigneeID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, id := range ids {
			inc, err := s.assignInTx(ctx, tx, actor, id, assignee, notes, now)
			if err != nil {
				// Keep the kind so the client sees which incident failed
				if kind := apperr.KindOf(err); kind != apperr.KindInternal {
					return apperr.Wrap(kind, fmt.Sprintf("incident %s: %s", id, apperr.MessageOf(err)), err)
				}
				return fmt.Errorf("incident %s: %w", id, err)
			}
			updated = append(updated, inc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("Incidents bulk assigned", "count", len(updated), "assignee", req.AssigneeID, "actor", actor.ID)
	s.index(updated...)
	return updated, nil
}

func (s *IncidentService) loadAssignee(ctx context.Context, tx store.Store, id uuid.UUID) (models.Profile, error) {
	if id == uuid.Nil {
		return models.Profile{}, apperr.New(apperr.KindValidation, "assignee_id is required")
	}
	p, err := tx.GetProfile(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return models.Profile{}, apperr.New(apperr.KindValidation, "assignee does not exist")
		}
		return models.Profile{}, err
	}
	if p.Role != models.RoleSecurity || !p.IsActive {
		return models.Profile{}, apperr.New(apperr.KindValidation, "assignee must be an active security user")
	}
	return p, nil
}

func (s *IncidentService) assignInTx(ctx context.Context, tx store.Store, actor models.Actor, id uuid.UUID, assignee models.Profile, notes string, now time.Time) (models.Incident, error) {
	inc, err := tx.LockIncident(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}

	var next models.Incident
	switch inc.Status {
	case models.StatusReported, models.StatusInProgress:
		staged := inc.Clone()
		staged.AssignedTo = &assignee.ID
		staged.AssignedBy = &actor.ID
		next, err = s.machine.Transition(staged, models.StatusAssigned, actor, now)
		if err != nil {
			return models.Incident{}, err
		}
	case models.StatusAssigned:
		next = inc.Clone()
		next.AssignedTo = &assignee.ID
		next.AssignedBy = &actor.ID
		next.AssignedAt = &now
		next.UpdatedAt = now
	default:
		return models.Incident{}, apperr.Newf(apperr.KindInvalidState,
			"incident in status %s cannot be assigned", inc.Status)
	}

	if err := tx.UpdateIncident(ctx, next); err != nil {
		return models.Incident{}, err
	}
	if err := tx.CreateAssignment(ctx, models.IncidentAssignment{
		ID:         uuid.New(),
		IncidentID: inc.ID,
		AssignedTo: assignee.ID,
		AssignedBy: actor.ID,
		AssignedAt: now,
		Notes:      strings.TrimSpace(notes),
		Status:     next.Status,
	}); err != nil {
		return models.Incident{}, err
	}
	if err := s.audit.Record(ctx, tx, AuditEntry{
		Actor:     actor.ID,
		Action:    AuditAssign,
		TableName: "incidents",
		RecordID:  inc.ID,
		Old:       map[string]any{"status": inc.Status, "assigned_to": inc.AssignedTo},
		New:       map[string]any{"status": next.Status, "assigned_to": next.AssignedTo},
	}, now); err != nil {
		return models.Incident{}, err
	}

	if err := s.notifier.Notify(ctx, tx, assignee.ID, Message{
		Type:           models.NotifyIncidentAssigned,
		Incident:       &next,
		Title:          "Incident assigned to you",
		Body:           next.Title,
		ActionRequired: true,
	}, now); err != nil {
		return models.Incident{}, err
	}
	if inc.Status != next.Status && next.ReporterID != nil && *next.ReporterID != actor.ID {
		if err := s.notifier.Notify(ctx, tx, *next.ReporterID, Message{
			Type:     models.NotifyStatusChanged,
			Incident: &next,
			Title:    "Security assigned",
			Body:     fmt.Sprintf("%s has been assigned to %s", next.Title, assignee.DisplayName()),
		}, now); err != nil {
			return models.Incident{}, err
		}
	}
	return next, nil
}

// Assignments returns the assignment history of an incident, oldest first
func (s *IncidentService) Assignments(ctx context.Context, actor models.Actor, id uuid.UUID) ([]models.IncidentAssignment, error) {
	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inc.IsReportedBy(actor.ID) && !s.policy.HasPermission(actor, rbac.ActionIncidentReadAssigned, rbac.TargetOf(inc)) {
		return nil, apperr.ErrForbidden
	}
	out, err := s.store.ListAssignments(ctx, id)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.IncidentAssignment{}
	}
	return out, nil
}

// Search runs a free-text query. Without an index it filters in the store.
func (s *IncidentService) Search(ctx context.Context, actor models.Actor, q search.Query) (search.Result, error) {
	if !s.policy.HasPermission(actor, rbac.ActionIncidentRead, rbac.Target{}) {
		return search.Result{}, apperr.ErrForbidden
	}
	if q.Status != "" && !q.Status.Valid() {
		return search.Result{}, apperr.Newf(apperr.KindValidation, "unknown status %q", q.Status)
	}
	if q.Priority != "" && !q.Priority.Valid() {
		return search.Result{}, apperr.Newf(apperr.KindValidation, "unknown priority %q", q.Priority)
	}

	var res search.Result
	if s.indexer != nil {
		var err error
		if res, err = s.indexer.Search(ctx, q); err != nil {
			return search.Result{}, err
		}
	} else {
		incidents, err := s.List(ctx, actor, models.IncidentFilter{
			Search:   q.Text,
			Status:   q.Status,
			Category: q.Category,
			Priority: q.Priority,
			Limit:    q.Limit,
			Offset:   q.Offset,
		})
		if err != nil {
			return search.Result{}, err
		}
		return search.Result{Incidents: incidents, Total: len(incidents), Query: q.Text, Mode: search.ModeDatabase}, nil
	}

	for i, inc := range res.Incidents {
		res.Incidents[i] = s.redact(actor, inc)
	}
	return res, nil
}

// AllowedTransitions lists the statuses actor may move the incident to
func (s *IncidentService) AllowedTransitions(ctx context.Context, actor models.Actor, id uuid.UUID) ([]models.IncidentStatus, error) {
	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	out := s.machine.Allowed(inc, actor)
	if out == nil {
		out = []models.IncidentStatus{}
	}
	return out, nil
}
