package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
)

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)

	p, err := f.profiles.Authenticate(f.ctx, f.resident.ID)
	require.NoError(t, err)
	assert.Equal(t, f.resident.ID, p.ID)

	stored, err := f.store.GetProfile(f.ctx, f.resident.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSeen)
	first := *stored.LastSeen

	// A second request inside the resolution window does not rewrite the row
	_, err = f.profiles.Authenticate(f.ctx, f.resident.ID)
	require.NoError(t, err)
	stored, err = f.store.GetProfile(f.ctx, f.resident.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *stored.LastSeen)

	_, err = f.profiles.Authenticate(f.ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestUpdateSelf(t *testing.T) {
	f := newFixture(t)
	name := "  Rosa Diaz "
	phone := "555-0100"

	got, err := f.profiles.UpdateSelf(f.ctx, actorOf(f.resident), models.ProfileUpdate{FullName: &name, Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "Rosa Diaz", got.FullName)
	assert.Equal(t, "555-0100", got.Phone)
	assert.Equal(t, models.RoleResident, got.Role)

	logs := f.store.AuditLogs()
	require.NotEmpty(t, logs)
	assert.Equal(t, "profiles", logs[len(logs)-1].TableName)
}

func TestSetRoleRules(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		actor models.Profile
		user  models.Profile
		role  models.Role
		want  error
	}{
		{"admin promotes resident", f.admin, f.neighbor, models.RoleSecurity, nil},
		{"admin cannot grant super admin", f.admin, f.guard, models.RoleSuperAdmin, apperr.ErrForbidden},
		{"admin cannot demote super admin", f.admin, f.superAdmin, models.RoleAdmin, apperr.ErrForbidden},
		{"super admin grants super admin", f.superAdmin, f.admin, models.RoleSuperAdmin, nil},
		{"no self change", f.superAdmin, f.superAdmin, models.RoleResident, apperr.ErrForbidden},
		{"security cannot manage", f.guard, f.resident, models.RoleAdmin, apperr.ErrForbidden},
		{"unknown role", f.superAdmin, f.resident, "mayor", apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.profiles.SetRole(f.ctx, actorOf(tt.actor), tt.user.ID, tt.role)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.role, got.Role)
		})
	}

	var roleChanges int
	for _, e := range f.store.AuditLogs() {
		if e.Action == AuditRoleChange {
			roleChanges++
			assert.NotEmpty(t, e.OldValues)
			assert.NotEmpty(t, e.NewValues)
		}
	}
	assert.Equal(t, 2, roleChanges)
}

func TestSetActive(t *testing.T) {
	f := newFixture(t)

	_, err := f.profiles.SetActive(f.ctx, actorOf(f.admin), f.admin.ID, false)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.profiles.SetActive(f.ctx, actorOf(f.admin), f.superAdmin.ID, false)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	got, err := f.profiles.SetActive(f.ctx, actorOf(f.admin), f.neighbor.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// a deactivated user keeps their session token but loses every permission
	_, err = f.incidents.Report(f.ctx, actorOf(got), models.IncidentReport{Title: "x", Description: "y"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)

	_, err := f.profiles.ListUsers(f.ctx, actorOf(f.guard), models.ProfileFilter{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	all, err := f.profiles.ListUsers(f.ctx, actorOf(f.admin), models.ProfileFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	_, err = f.profiles.SetActive(f.ctx, actorOf(f.admin), f.guard2.ID, false)
	require.NoError(t, err)
	security, err := f.profiles.ListSecurity(f.ctx, actorOf(f.admin))
	require.NoError(t, err)
	require.Len(t, security, 1)
	assert.Equal(t, f.guard.ID, security[0].ID)
}
