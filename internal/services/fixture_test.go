package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/lifecycle"
	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/rbac"
	"github.com/neighborwatch/incident-server/internal/store/storetest"
)

type fixture struct {
	ctx    context.Context
	store  *storetest.Memory
	policy *rbac.Policy

	audit         *AuditService
	notifications *NotificationService
	incidents     *IncidentService
	feedback      *FeedbackService
	comments      *CommentService
	profiles      *ProfileService
	stats         *StatsService
	integrity     *IntegrityService

	resident   models.Profile
	neighbor   models.Profile
	guard      models.Profile
	guard2     models.Profile
	admin      models.Profile
	superAdmin models.Profile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	policy, err := rbac.NewPolicy()
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	mem := storetest.New()
	audit := NewAuditService(mem, policy, logger)
	notifier := NewNotificationService(mem, policy, logger)
	incidents := NewIncidentService(mem, policy, lifecycle.NewMachine(policy), audit, notifier, nil, logger)

	f := &fixture{
		ctx:           context.Background(),
		store:         mem,
		policy:        policy,
		audit:         audit,
		notifications: notifier,
		incidents:     incidents,
		feedback:      NewFeedbackService(mem, policy, incidents, audit, notifier, logger),
		comments:      NewCommentService(mem, policy, audit, notifier, logger),
		profiles:      NewProfileService(mem, policy, audit, logger),
		stats:         NewStatsService(mem, policy, incidents, logger),
		integrity:     NewIntegrityService(mem, policy, logger),
	}
	f.resident = f.user("rosa", models.RoleResident)
	f.neighbor = f.user("nate", models.RoleResident)
	f.guard = f.user("gus", models.RoleSecurity)
	f.guard2 = f.user("gina", models.RoleSecurity)
	f.admin = f.user("ada", models.RoleAdmin)
	f.superAdmin = f.user("sam", models.RoleSuperAdmin)
	return f
}

func (f *fixture) user(name string, role models.Role) models.Profile {
	return f.store.AddProfile(models.Profile{
		Username: name,
		Email:    name + "@example.com",
		Role:     role,
		IsActive: true,
	})
}

func actorOf(p models.Profile) models.Actor {
	return p.Actor()
}

func (f *fixture) report(t *testing.T, title string) models.Incident {
	t.Helper()
	inc, err := f.incidents.Report(f.ctx, actorOf(f.resident), models.IncidentReport{
		Title:       title,
		Description: "Someone is trying car doors on Elm street",
		LocationLat: 40.7,
		LocationLng: -74.0,
		Priority:    models.PriorityHigh,
		Category:    "suspicious_activity",
	})
	require.NoError(t, err)
	return inc
}

// inProgress reports an incident, assigns it to guard and starts work
func (f *fixture) inProgress(t *testing.T) models.Incident {
	t.Helper()
	inc := f.report(t, "Car break-in")
	_, err := f.incidents.Assign(f.ctx, actorOf(f.admin), inc.ID, models.AssignRequest{AssigneeID: f.guard.ID})
	require.NoError(t, err)
	inc, err = f.incidents.Transition(f.ctx, actorOf(f.guard), inc.ID, models.StatusInProgress)
	require.NoError(t, err)
	return inc
}

func (f *fixture) get(t *testing.T, id uuid.UUID) models.Incident {
	t.Helper()
	inc, err := f.store.GetIncident(f.ctx, id)
	require.NoError(t, err)
	return inc
}

func (f *fixture) notificationsFor(id uuid.UUID) []models.Notification {
	var out []models.Notification
	for _, n := range f.store.Notifications() {
		if n.UserID == id {
			out = append(out, n)
		}
	}
	return out
}

// requireConsistent checks that every stored incident has an assignee
// exactly when it has left reported
func (f *fixture) requireConsistent(t *testing.T) {
	t.Helper()
	for _, inc := range f.store.Incidents() {
		require.True(t, lifecycle.AssignmentConsistent(inc), "incident %s in %s has assigned_to=%v", inc.ID, inc.Status, inc.AssignedTo)
	}
}
