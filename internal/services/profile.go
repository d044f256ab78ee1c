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

const maxProfileField = 200

// ProfileService handles user profiles and admin user management
type ProfileService struct {
	store  store.Store
	policy *rbac.Policy
	audit  *AuditService
	logger *zap.SugaredLogger
}

// NewProfileService creates a new profile service
func NewProfileService(st store.Store, policy *rbac.Policy, audit *AuditService, logger *zap.SugaredLogger) *ProfileService {
	return &ProfileService{store: st, policy: policy, audit: audit, logger: logger}
}

// lastSeenResolution bounds how often Authenticate rewrites last_seen
const lastSeenResolution = 5 * time.Minute

// Authenticate resolves a verified token subject to its profile and stamps
// last_seen at most once per lastSeenResolution. Unknown users are
// unauthorized.
func (s *ProfileService) Authenticate(ctx context.Context, id uuid.UUID) (models.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return models.Profile{}, apperr.New(apperr.KindUnauthorized, "unknown user")
		}
		return models.Profile{}, err
	}
	now := time.Now().UTC()
	if p.LastSeen != nil && now.Sub(*p.LastSeen) < lastSeenResolution {
		return p, nil
	}
	if err := s.store.TouchLastSeen(ctx, id, now); err != nil {
		s.logger.Warnw("Failed to update last seen", "user_id", id, "error", err)
	}
	return p, nil
}

// Me returns the actor's own profile
func (s *ProfileService) Me(ctx context.Context, actor models.Actor) (models.Profile, error) {
	return s.store.GetProfile(ctx, actor.ID)
}

func trimField(name string, v *string) error {
	if v == nil {
		return nil
	}
	*v = strings.TrimSpace(*v)
	if len(*v) > maxProfileField {
		return apperr.Newf(apperr.KindValidation, "%s must be at most %d characters", name, maxProfileField)
	}
	return nil
}

// UpdateSelf edits the actor's own contact fields
func (s *ProfileService) UpdateSelf(ctx context.Context, actor models.Actor, in models.ProfileUpdate) (models.Profile, error) {
	if !s.policy.HasPermission(actor, rbac.ActionProfileUpdateSelf, rbac.Target{}) {
		return models.Profile{}, apperr.ErrForbidden
	}
	for name, v := range map[string]*string{
		"full_name":  in.FullName,
		"phone":      in.Phone,
		"address":    in.Address,
		"avatar_url": in.AvatarURL,
	} {
		if err := trimField(name, v); err != nil {
			return models.Profile{}, err
		}
	}

	var updated models.Profile
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		current, err := tx.GetProfile(ctx, actor.ID)
		if err != nil {
			return err
		}
		updated = current
		if in.FullName != nil {
			updated.FullName = *in.FullName
		}
		if in.Phone != nil {
			updated.Phone = *in.Phone
		}
		if in.Address != nil {
			updated.Address = *in.Address
		}
		if in.AvatarURL != nil {
			updated.AvatarURL = *in.AvatarURL
		}
		now := time.Now().UTC()
		updated.UpdatedAt = now
		if err := tx.UpdateProfile(ctx, updated); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			Actor:     actor.ID,
			Action:    AuditUpdate,
			TableName: "profiles",
			RecordID:  actor.ID,
			Old:       contactFields(current),
			New:       contactFields(updated),
		}, now)
	})
	if err != nil {
		return models.Profile{}, err
	}
	return updated, nil
}

func contactFields(p models.Profile) map[string]string {
	return map[string]string{
		"full_name":  p.FullName,
		"phone":      p.Phone,
		"address":    p.Address,
		"avatar_url": p.AvatarURL,
	}
}

// ListUsers returns every profile matching filter (admin only)
func (s *ProfileService) ListUsers(ctx context.Context, actor models.Actor, filter models.ProfileFilter) ([]models.Profile, error) {
	if !s.policy.HasPermission(actor, rbac.ActionUserManage, rbac.Target{}) {
		return nil, apperr.New(apperr.KindForbidden, "user management is restricted to admins")
	}
	for _, r := range filter.Roles {
		if !r.Valid() {
			return nil, apperr.Newf(apperr.KindValidation, "unknown role %q", r)
		}
	}
	out, err := s.store.ListProfiles(ctx, filter)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Profile{}
	}
	return out, nil
}

// ListSecurity returns active security personnel eligible for assignment
func (s *ProfileService) ListSecurity(ctx context.Context, actor models.Actor) ([]models.Profile, error) {
	if !s.policy.HasPermission(actor, rbac.ActionIncidentAssign, rbac.Target{}) {
		return nil, apperr.ErrForbidden
	}
	out, err := s.store.ListProfiles(ctx, models.ProfileFilter{
		Roles:      []models.Role{models.RoleSecurity},
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Profile{}
	}
	return out, nil
}

// SetRole changes another user's role
func (s *ProfileService) SetRole(ctx context.Context, actor models.Actor, userID uuid.UUID, role models.Role) (models.Profile, error) {
	if !role.Valid() {
		return models.Profile{}, apperr.Newf(apperr.KindValidation, "unknown role %q", role)
	}
	if actor.ID == userID {
		return models.Profile{}, apperr.New(apperr.KindForbidden, "you cannot change your own role")
	}

	var updated models.Profile
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		current, err := tx.GetProfile(ctx, userID)
		if err != nil {
			return err
		}
		if !s.policy.CanSetRole(actor, userID, current.Role, role) {
			return apperr.Newf(apperr.KindForbidden, "role %s may not change %s to %s", actor.Role, current.Role, role)
		}
		updated = current
		if current.Role == role {
			return nil
		}
		now := time.Now().UTC()
		updated.Role = role
		updated.UpdatedAt = now
		if err := tx.UpdateProfile(ctx, updated); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			Actor:     actor.ID,
			Action:    AuditRoleChange,
			TableName: "profiles",
			RecordID:  userID,
			Old:       map[string]any{"role": current.Role},
			New:       map[string]any{"role": role},
		}, now)
	})
	if err != nil {
		return models.Profile{}, err
	}

	s.logger.Infow("User role changed", "user_id", userID, "role", role, "actor", actor.ID)
	return updated, nil
}

// SetActive enables or disables another user's account
func (s *ProfileService) SetActive(ctx context.Context, actor models.Actor, userID uuid.UUID, active bool) (models.Profile, error) {
	if !s.policy.HasPermission(actor, rbac.ActionUserManage, rbac.Target{}) {
		return models.Profile{}, apperr.New(apperr.KindForbidden, "user management is restricted to admins")
	}
	if actor.ID == userID && !active {
		return models.Profile{}, apperr.New(apperr.KindForbidden, "you cannot deactivate your own account")
	}

	var updated models.Profile
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		current, err := tx.GetProfile(ctx, userID)
		if err != nil {
			return err
		}
		if current.Role == models.RoleSuperAdmin &&
			!s.policy.HasPermission(actor, rbac.ActionUserGrantSuperAdmin, rbac.Target{}) {
			return apperr.New(apperr.KindForbidden, "only super admins may change a super admin account")
		}
		updated = current
		if current.IsActive == active {
			return nil
		}
		now := time.Now().UTC()
		updated.IsActive = active
		updated.UpdatedAt = now
		if err := tx.UpdateProfile(ctx, updated); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			Actor:     actor.ID,
			Action:    AuditActiveChange,
			TableName: "profiles",
			RecordID:  userID,
			Old:       map[string]any{"is_active": current.IsActive},
			New:       map[string]any{"is_active": active},
		}, now)
	})
	if err != nil {
		return models.Profile{}, err
	}

	s.logger.Infow("User active flag changed", "user_id", userID, "is_active", active, "actor", actor.ID)
	return updated, nil
}
