package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/rbac"
	"github.com/neighborwatch/incident-server/internal/store"
)

const notificationListLimit = 50

// Message is a notification to deliver to one user
type Message struct {
	Type           models.NotificationType
	Incident       *models.Incident
	Title          string
	Body           string
	ActionRequired bool
}

// NotificationService writes and serves per-user notifications
type NotificationService struct {
	store  store.Store
	policy *rbac.Policy
	logger *zap.SugaredLogger
}

// NewNotificationService creates a new notification service
func NewNotificationService(st store.Store, policy *rbac.Policy, logger *zap.SugaredLogger) *NotificationService {
	return &NotificationService{store: st, policy: policy, logger: logger}
}

// wants reports whether prefs allow a notification of type t
func wants(prefs models.NotificationPreferences, t models.NotificationType) bool {
	switch t {
	case models.NotifyIncidentCreated, models.NotifyIncidentAssigned:
		return prefs.IncidentAlerts
	case models.NotifyStatusChanged, models.NotifyIncidentUpdated,
		models.NotifyIncidentResolved, models.NotifyFeedbackApproved:
		return prefs.StatusUpdates
	default:
		return true
	}
}

// Notify writes msg for userID through tx unless the recipient is inactive
// or has opted out of the type. Action-required messages ignore opt-outs.
func (s *NotificationService) Notify(ctx context.Context, tx store.Store, userID uuid.UUID, msg Message, now time.Time) error {
	recipient, err := tx.GetProfile(ctx, userID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil
		}
		return err
	}
	if !recipient.IsActive {
		return nil
	}
	if !msg.ActionRequired && !wants(recipient.Preferences(), msg.Type) {
		return nil
	}

	n := models.Notification{
		ID:             uuid.New(),
		UserID:         userID,
		Type:           msg.Type,
		Title:          msg.Title,
		Message:        msg.Body,
		Priority:       1,
		ActionRequired: msg.ActionRequired,
		CreatedAt:      now,
	}
	if msg.Incident != nil {
		id := msg.Incident.ID
		n.IncidentID = &id
		n.Priority = msg.Incident.Priority.Level()
		n.ActionURL = "/incidents/" + id.String()
	}
	return tx.CreateNotification(ctx, n)
}

// NotifyAdmins sends msg to every active admin and super admin except skip
func (s *NotificationService) NotifyAdmins(ctx context.Context, tx store.Store, skip uuid.UUID, msg Message, now time.Time) error {
	admins, err := tx.ListProfiles(ctx, models.ProfileFilter{
		Roles:      []models.Role{models.RoleAdmin, models.RoleSuperAdmin},
		ActiveOnly: true,
	})
	if err != nil {
		return err
	}
	for _, a := range admins {
		if a.ID == skip {
			continue
		}
		if err := s.Notify(ctx, tx, a.ID, msg, now); err != nil {
			return err
		}
	}
	return nil
}

// List returns the newest notifications for actor
func (s *NotificationService) List(ctx context.Context, actor models.Actor) ([]models.Notification, error) {
	if !s.policy.HasPermission(actor, rbac.ActionNotificationRead, rbac.Target{}) {
		return nil, apperr.ErrForbidden
	}
	out, err := s.store.ListNotifications(ctx, actor.ID, notificationListLimit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Notification{}
	}
	return out, nil
}

// UnreadCount returns how many of actor's notifications are unread
func (s *NotificationService) UnreadCount(ctx context.Context, actor models.Actor) (int, error) {
	if !s.policy.HasPermission(actor, rbac.ActionNotificationRead, rbac.Target{}) {
		return 0, apperr.ErrForbidden
	}
	return s.store.CountUnreadNotifications(ctx, actor.ID)
}

// MarkRead marks one of actor's notifications as read. Notifications of
// other users are reported as not found.
func (s *NotificationService) MarkRead(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	if !s.policy.HasPermission(actor, rbac.ActionNotificationRead, rbac.Target{}) {
		return apperr.ErrForbidden
	}
	return s.store.MarkNotificationRead(ctx, id, actor.ID)
}

// MarkAllRead marks every notification of actor as read
func (s *NotificationService) MarkAllRead(ctx context.Context, actor models.Actor) (int64, error) {
	if !s.policy.HasPermission(actor, rbac.ActionNotificationRead, rbac.Target{}) {
		return 0, apperr.ErrForbidden
	}
	return s.store.MarkAllNotificationsRead(ctx, actor.ID)
}

// Preferences returns actor's notification preferences
func (s *NotificationService) Preferences(ctx context.Context, actor models.Actor) (models.NotificationPreferences, error) {
	p, err := s.store.GetProfile(ctx, actor.ID)
	if err != nil {
		return models.NotificationPreferences{}, err
	}
	return p.Preferences(), nil
}

// UpdatePreferences replaces actor's notification preferences
func (s *NotificationService) UpdatePreferences(ctx context.Context, actor models.Actor, prefs models.NotificationPreferences) (models.NotificationPreferences, error) {
	if !s.policy.HasPermission(actor, rbac.ActionProfileUpdateSelf, rbac.Target{}) {
		return models.NotificationPreferences{}, apperr.ErrForbidden
	}
	raw, err := json.Marshal(prefs)
	if err != nil {
		return models.NotificationPreferences{}, fmt.Errorf("encode preferences: %w", err)
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		p, err := tx.GetProfile(ctx, actor.ID)
		if err != nil {
			return err
		}
		p.NotificationPreferences = raw
		p.UpdatedAt = time.Now().UTC()
		return tx.UpdateProfile(ctx, p)
	})
	if err != nil {
		return models.NotificationPreferences{}, err
	}
	return prefs, nil
}
