package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
)

func TestPreferencesFilterNotifications(t *testing.T) {
	f := newFixture(t)

	prefs := models.DefaultNotificationPreferences()
	prefs.StatusUpdates = false
	prefs.IncidentAlerts = false
	_, err := f.notifications.UpdatePreferences(f.ctx, actorOf(f.resident), prefs)
	require.NoError(t, err)
	_, err = f.notifications.UpdatePreferences(f.ctx, actorOf(f.guard), prefs)
	require.NoError(t, err)

	got, err := f.notifications.Preferences(f.ctx, actorOf(f.resident))
	require.NoError(t, err)
	assert.False(t, got.StatusUpdates)
	assert.True(t, got.Push)

	f.inProgress(t)

	assert.Empty(t, f.notificationsFor(f.resident.ID), "status updates were opted out")
	guardNotes := f.notificationsFor(f.guard.ID)
	require.Len(t, guardNotes, 1, "assignment requires action and ignores opt-outs")
	assert.Equal(t, models.NotifyIncidentAssigned, guardNotes[0].Type)
}

func TestInactiveUsersAreNotNotified(t *testing.T) {
	f := newFixture(t)
	_, err := f.profiles.SetActive(f.ctx, actorOf(f.superAdmin), f.admin.ID, false)
	require.NoError(t, err)

	f.report(t, "Prowler")
	assert.Empty(t, f.notificationsFor(f.admin.ID))
	assert.Len(t, f.notificationsFor(f.superAdmin.ID), 1)
}

func TestReadNotifications(t *testing.T) {
	f := newFixture(t)
	f.report(t, "One")
	f.report(t, "Two")

	list, err := f.notifications.List(f.ctx, actorOf(f.admin))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "/incidents/"+list[0].IncidentID.String(), list[0].ActionURL)

	count, err := f.notifications.UnreadCount(f.ctx, actorOf(f.admin))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	err = f.notifications.MarkRead(f.ctx, actorOf(f.superAdmin), list[0].ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, f.notifications.MarkRead(f.ctx, actorOf(f.admin), list[0].ID))
	count, err = f.notifications.UnreadCount(f.ctx, actorOf(f.admin))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err := f.notifications.MarkAllRead(f.ctx, actorOf(f.admin))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = f.notifications.MarkRead(f.ctx, actorOf(f.admin), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
