package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/auth"
)

func TestAuditTrailForIncident(t *testing.T) {
	f := newFixture(t)
	f.ctx = auth.WithClient(context.Background(), auth.Client{IP: "203.0.113.7", UserAgent: "test-agent"})
	inc := f.inProgress(t)

	_, err := f.audit.ForRecord(f.ctx, actorOf(f.guard), "incidents", inc.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	history, err := f.audit.ForRecord(f.ctx, actorOf(f.admin), "incidents", inc.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{AuditCreate, AuditAssign, AuditStatusChange},
		[]string{history[0].Action, history[1].Action, history[2].Action})
	assert.Equal(t, "203.0.113.7", history[0].IPAddress)
	assert.Equal(t, "test-agent", history[0].UserAgent)
	assert.JSONEq(t, `{"status":"in_progress"}`, string(history[2].NewValues))

	recent, err := f.audit.Recent(f.ctx, actorOf(f.admin), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, AuditStatusChange, recent[0].Action)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0, 50, 100))
	assert.Equal(t, 100, clampLimit(1000, 50, 100))
	assert.Equal(t, 7, clampLimit(7, 50, 100))
}
