package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/rbac"
	"github.com/neighborwatch/incident-server/internal/store"
)

const maxFeedbackLength = 5000

// FeedbackService runs the feedback approval sub-flow
type FeedbackService struct {
	store     store.Store
	policy    *rbac.Policy
	incidents *IncidentService
	audit     *AuditService
	notifier  *NotificationService
	logger    *zap.SugaredLogger
}

// NewFeedbackService creates a new feedback service
func NewFeedbackService(
	st store.Store,
	policy *rbac.Policy,
	incidents *IncidentService,
	audit *AuditService,
	notifier *NotificationService,
	logger *zap.SugaredLogger,
) *FeedbackService {
	return &FeedbackService{
		store:     st,
		policy:    policy,
		incidents: incidents,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
	}
}

// Submit records security's report on an in-progress incident assigned to
// them and moves the incident to feedback_pending.
func (s *FeedbackService) Submit(ctx context.Context, actor models.Actor, incidentID uuid.UUID, in models.FeedbackSubmission) (models.IncidentFeedback, error) {
	text := strings.TrimSpace(in.FeedbackText)
	if text == "" {
		return models.IncidentFeedback{}, apperr.New(apperr.KindValidation, "feedback_text is required")
	}
	if len(text) > maxFeedbackLength {
		return models.IncidentFeedback{}, apperr.Newf(apperr.KindValidation, "feedback_text must be at most %d characters", maxFeedbackLength)
	}
	if !actor.IsActive || !s.policy.Can(actor.Role, rbac.ActionFeedbackSubmit) {
		return models.IncidentFeedback{}, apperr.New(apperr.KindForbidden, "only security personnel may submit feedback")
	}

	var fb models.IncidentFeedback
	var updated models.Incident
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		inc, err := tx.LockIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if !s.policy.HasPermission(actor, rbac.ActionFeedbackSubmit, rbac.TargetOf(inc)) {
			return apperr.New(apperr.KindNotAssigned, "incident is not assigned to you")
		}
		if inc.Status != models.StatusInProgress {
			return apperr.Newf(apperr.KindInvalidState, "feedback requires status in_progress, incident is %s", inc.Status)
		}

		now := time.Now().UTC()
		fb = models.IncidentFeedback{
			ID:           uuid.New(),
			IncidentID:   inc.ID,
			SecurityID:   actor.ID,
			FeedbackText: text,
			Status:       models.FeedbackSubmitted,
			SubmittedAt:  now,
		}
		if err := tx.CreateFeedback(ctx, fb); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, AuditEntry{
			Actor:     actor.ID,
			Action:    AuditFeedbackAdd,
			TableName: "incident_feedback",
			RecordID:  fb.ID,
			New:       fb,
		}, now); err != nil {
			return err
		}

		updated, err = s.incidents.applyTransition(ctx, tx, actor, inc, models.StatusFeedbackPending, now)
		if err != nil {
			return err
		}
		return s.notifier.NotifyAdmins(ctx, tx, actor.ID, Message{
			Type:           models.NotifyFeedbackSubmitted,
			Incident:       &updated,
			Title:          "Feedback awaiting review",
			Body:           updated.Title,
			ActionRequired: true,
		}, now)
	})
	if err != nil {
		return models.IncidentFeedback{}, err
	}

	s.logger.Infow("Feedback submitted", "feedback_id", fb.ID, "incident_id", incidentID, "security_id", actor.ID)
	s.incidents.index(updated)
	return fb, nil
}

// decide loads a submitted feedback row and its incident for an admin decision
func (s *FeedbackService) decide(ctx context.Context, tx store.Store, feedbackID uuid.UUID) (models.IncidentFeedback, models.Incident, error) {
	fb, err := tx.LockFeedback(ctx, feedbackID)
	if err != nil {
		return models.IncidentFeedback{}, models.Incident{}, err
	}
	if fb.Status != models.FeedbackSubmitted {
		return models.IncidentFeedback{}, models.Incident{}, apperr.Newf(apperr.KindAlreadyDecided, "feedback is already %s", fb.Status)
	}
	inc, err := tx.LockIncident(ctx, fb.IncidentID)
	if err != nil {
		return models.IncidentFeedback{}, models.Incident{}, err
	}
	if !inc.Status.InFeedbackReview() {
		return models.IncidentFeedback{}, models.Incident{}, apperr.Newf(apperr.KindInvalidState,
			"feedback requires status feedback_pending or feedback_submitted, incident is %s", inc.Status)
	}
	return fb, inc, nil
}

// walk applies each status in path in order, skipping those the incident
// has already reached. Only the final step notifies.
func (s *FeedbackService) walk(ctx context.Context, tx store.Store, actor models.Actor, inc models.Incident, path []models.IncidentStatus, now time.Time) (models.Incident, error) {
	start := 0
	for i, st := range path {
		if inc.Status == st {
			start = i + 1
		}
	}
	steps := path[start:]
	var err error
	for i, st := range steps {
		if i == len(steps)-1 {
			inc, err = s.incidents.applyTransition(ctx, tx, actor, inc, st, now)
		} else {
			inc, err = s.incidents.moveStatus(ctx, tx, actor, inc, st, now)
		}
		if err != nil {
			return models.Incident{}, err
		}
	}
	return inc, nil
}

// Approve accepts submitted feedback and moves the incident to
// feedback_approved
func (s *FeedbackService) Approve(ctx context.Context, actor models.Actor, feedbackID uuid.UUID) (models.IncidentFeedback, error) {
	if !s.policy.HasPermission(actor, rbac.ActionFeedbackDecide, rbac.Target{}) {
		return models.IncidentFeedback{}, apperr.New(apperr.KindForbidden, "only admins may approve feedback")
	}

	var fb models.IncidentFeedback
	var updated models.Incident
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		current, inc, err := s.decide(ctx, tx, feedbackID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		updated, err = s.walk(ctx, tx, actor, inc, []models.IncidentStatus{
			models.StatusFeedbackSubmitted,
			models.StatusFeedbackApproved,
		}, now)
		if err != nil {
			return err
		}

		fb = current
		fb.Status = models.FeedbackApproved
		fb.AdminApprovedAt = &now
		fb.AdminApprovedBy = &actor.ID
		fb.ApprovedAt = &now
		fb.ApprovedBy = &actor.ID
		if err := tx.UpdateFeedback(ctx, fb); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, AuditEntry{
			Actor:     actor.ID,
			Action:    AuditFeedbackOK,
			TableName: "incident_feedback",
			RecordID:  fb.ID,
			Old:       map[string]any{"status": current.Status},
			New:       map[string]any{"status": fb.Status, "admin_approved_at": now},
		}, now); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, fb.SecurityID, Message{
			Type:     models.NotifyFeedbackApproved,
			Incident: &updated,
			Title:    "Feedback approved",
			Body:     updated.Title,
		}, now)
	})
	if err != nil {
		return models.IncidentFeedback{}, err
	}

	s.logger.Infow("Feedback approved", "feedback_id", feedbackID, "incident_id", fb.IncidentID, "actor", actor.ID)
	s.incidents.index(updated)
	return fb, nil
}

// Reject declines submitted feedback and returns the incident to
// in_progress so security can resubmit
func (s *FeedbackService) Reject(ctx context.Context, actor models.Actor, feedbackID uuid.UUID) (models.IncidentFeedback, error) {
	if !s.policy.HasPermission(actor, rbac.ActionFeedbackDecide, rbac.Target{}) {
		return models.IncidentFeedback{}, apperr.New(apperr.KindForbidden, "only admins may reject feedback")
	}

	var fb models.IncidentFeedback
	var updated models.Incident
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		current, inc, err := s.decide(ctx, tx, feedbackID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		// Closed before the walk so returning to in_progress does not
		// withdraw it a second time
		fb = current
		fb.Status = models.FeedbackRejected
		if err := tx.UpdateFeedback(ctx, fb); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, AuditEntry{
			Actor:     actor.ID,
			Action:    AuditFeedbackNo,
			TableName: "incident_feedback",
			RecordID:  fb.ID,
			Old:       map[string]any{"status": current.Status},
			New:       map[string]any{"status": fb.Status},
		}, now); err != nil {
			return err
		}

		path := []models.IncidentStatus{models.StatusInProgress}
		if inc.Status == models.StatusFeedbackSubmitted {
			path = []models.IncidentStatus{models.StatusFeedbackPending, models.StatusInProgress}
		}
		updated, err = s.walk(ctx, tx, actor, inc, path, now)
		if err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, fb.SecurityID, Message{
			Type:           models.NotifyIncidentUpdated,
			Incident:       &updated,
			Title:          "Feedback rejected",
			Body:           "Please review and resubmit feedback for " + updated.Title,
			ActionRequired: true,
		}, now)
	})
	if err != nil {
		return models.IncidentFeedback{}, err
	}

	s.logger.Infow("Feedback rejected", "feedback_id", feedbackID, "incident_id", fb.IncidentID, "actor", actor.ID)
	s.incidents.index(updated)
	return fb, nil
}

// ReporterApprove records the reporter's acknowledgement. It does not gate
// the admin decision.
func (s *FeedbackService) ReporterApprove(ctx context.Context, actor models.Actor, feedbackID uuid.UUID) (models.IncidentFeedback, error) {
	var fb models.IncidentFeedback
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		current, err := tx.LockFeedback(ctx, feedbackID)
		if err != nil {
			return err
		}
		inc, err := tx.GetIncident(ctx, current.IncidentID)
		if err != nil {
			return err
		}
		if !s.policy.HasPermission(actor, rbac.ActionFeedbackReporterApprove, rbac.TargetOf(inc)) {
			return apperr.New(apperr.KindForbidden, "only the reporter may sign off on feedback")
		}
		if current.ApprovedByReporter {
			return apperr.New(apperr.KindAlreadyDecided, "feedback already signed off by the reporter")
		}
		if current.Status == models.FeedbackRejected || current.Status == models.FeedbackPending {
			return apperr.Newf(apperr.KindInvalidState, "feedback is %s", current.Status)
		}

		now := time.Now().UTC()
		fb = current
		fb.ApprovedByReporter = true
		fb.ReporterApprovedAt = &now
		if err := tx.UpdateFeedback(ctx, fb); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			Actor:     actor.ID,
			Action:    AuditReporterOK,
			TableName: "incident_feedback",
			RecordID:  fb.ID,
			New:       map[string]any{"approved_by_reporter": true, "reporter_approved_at": now},
		}, now)
	})
	if err != nil {
		return models.IncidentFeedback{}, err
	}
	return fb, nil
}

// List returns feedback for review. Admins see everything; security sees
// their own submissions.
func (s *FeedbackService) List(ctx context.Context, actor models.Actor, filter models.FeedbackFilter) ([]models.IncidentFeedback, error) {
	switch {
	case s.policy.HasPermission(actor, rbac.ActionFeedbackDecide, rbac.Target{}):
	case s.policy.HasPermission(actor, rbac.ActionFeedbackSubmit, rbac.Target{AssigneeID: &actor.ID}):
		filter.SecurityID = &actor.ID
	default:
		return nil, apperr.ErrForbidden
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "unknown feedback status %q", filter.Status)
	}
	filter.Limit = clampLimit(filter.Limit, defaultIncidentLimit, maxIncidentLimit)

	out, err := s.store.ListFeedback(ctx, filter)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.IncidentFeedback{}
	}
	return out, nil
}

// ListForIncident returns the feedback history of one incident
func (s *FeedbackService) ListForIncident(ctx context.Context, actor models.Actor, incidentID uuid.UUID) ([]models.IncidentFeedback, error) {
	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !inc.IsReportedBy(actor.ID) && !s.policy.HasPermission(actor, rbac.ActionIncidentReadAssigned, rbac.TargetOf(inc)) {
		return nil, apperr.ErrForbidden
	}
	out, err := s.store.ListFeedback(ctx, models.FeedbackFilter{IncidentID: &incidentID})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.IncidentFeedback{}
	}
	return out, nil
}
