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

const maxCommentLength = 2000

// CommentService handles threaded incident comments
type CommentService struct {
	store    store.Store
	policy   *rbac.Policy
	audit    *AuditService
	notifier *NotificationService
	logger   *zap.SugaredLogger
}

// NewCommentService creates a new comment service
func NewCommentService(st store.Store, policy *rbac.Policy, audit *AuditService, notifier *NotificationService, logger *zap.SugaredLogger) *CommentService {
	return &CommentService{store: st, policy: policy, audit: audit, notifier: notifier, logger: logger}
}

// Add posts a comment on an incident. Internal comments are limited to
// security and admins.
func (s *CommentService) Add(ctx context.Context, actor models.Actor, incidentID uuid.UUID, in models.CommentInput) (models.Comment, error) {
	if !s.policy.HasPermission(actor, rbac.ActionCommentCreate, rbac.Target{}) {
		return models.Comment{}, apperr.ErrForbidden
	}
	canInternal := s.policy.HasPermission(actor, rbac.ActionCommentInternal, rbac.Target{})
	if in.IsInternal && !canInternal {
		return models.Comment{}, apperr.New(apperr.KindForbidden, "internal comments are restricted to staff")
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return models.Comment{}, apperr.New(apperr.KindValidation, "content is required")
	}
	if len(content) > maxCommentLength {
		return models.Comment{}, apperr.Newf(apperr.KindValidation, "content must be at most %d characters", maxCommentLength)
	}

	now := time.Now().UTC()
	c := models.Comment{
		ID:         uuid.New(),
		IncidentID: incidentID,
		UserID:     actor.ID,
		Content:    content,
		IsInternal: in.IsInternal,
		ParentID:   in.ParentID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		inc, err := tx.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if c.ParentID != nil {
			parent, err := tx.GetComment(ctx, *c.ParentID)
			if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
				return err
			}
			if err != nil || (parent.IsInternal && !canInternal) {
				return apperr.New(apperr.KindValidation, "parent comment does not exist")
			}
			if parent.IncidentID != incidentID {
				return apperr.New(apperr.KindValidation, "parent comment belongs to another incident")
			}
		}

		if err := tx.CreateComment(ctx, c); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, AuditEntry{
			Actor:     actor.ID,
			Action:    AuditCommentCreate,
			TableName: "comments",
			RecordID:  c.ID,
			New:       map[string]any{"incident_id": incidentID, "is_internal": c.IsInternal},
		}, now); err != nil {
			return err
		}

		msg := Message{
			Type:     models.NotifyCommentAdded,
			Incident: &inc,
			Title:    "New comment",
			Body:     "New comment on " + inc.Title,
		}
		if !c.IsInternal && inc.ReporterID != nil && *inc.ReporterID != actor.ID {
			if err := s.notifier.Notify(ctx, tx, *inc.ReporterID, msg, now); err != nil {
				return err
			}
		}
		if inc.AssignedTo != nil && *inc.AssignedTo != actor.ID {
			if err := s.notifier.Notify(ctx, tx, *inc.AssignedTo, msg, now); err != nil {
				return err
			}
		}

		c, err = tx.GetComment(ctx, c.ID)
		return err
	})
	if err != nil {
		return models.Comment{}, err
	}
	return c, nil
}

// List returns an incident's comments in posting order. Internal comments
// are omitted for residents.
func (s *CommentService) List(ctx context.Context, actor models.Actor, incidentID uuid.UUID) ([]models.Comment, error) {
	if !s.policy.HasPermission(actor, rbac.ActionIncidentRead, rbac.Target{}) {
		return nil, apperr.ErrForbidden
	}
	if _, err := s.store.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}
	includeInternal := s.policy.HasPermission(actor, rbac.ActionCommentInternal, rbac.Target{})
	out, err := s.store.ListComments(ctx, incidentID, includeInternal)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Comment{}
	}
	return out, nil
}
