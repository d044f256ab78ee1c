package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
)

func (f *fixture) submitted(t *testing.T) (models.Incident, models.IncidentFeedback) {
	t.Helper()
	inc := f.inProgress(t)
	fb, err := f.feedback.Submit(f.ctx, actorOf(f.guard), inc.ID, models.FeedbackSubmission{FeedbackText: "Patrolled the block"})
	require.NoError(t, err)
	return inc, fb
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t)
	inc, fb := f.submitted(t)

	assert.Equal(t, models.FeedbackSubmitted, fb.Status)
	assert.Equal(t, f.guard.ID, fb.SecurityID)
	assert.Equal(t, models.StatusFeedbackPending, f.get(t, inc.ID).Status)

	adminNotes := f.notificationsFor(f.admin.ID)
	require.NotEmpty(t, adminNotes)
	last := adminNotes[len(adminNotes)-1]
	assert.Equal(t, models.NotifyFeedbackSubmitted, last.Type)
	assert.True(t, last.ActionRequired)
}

func TestSubmitFeedbackRules(t *testing.T) {
	f := newFixture(t)
	inc := f.inProgress(t)

	_, err := f.feedback.Submit(f.ctx, actorOf(f.guard2), inc.ID, models.FeedbackSubmission{FeedbackText: "Not mine"})
	assert.ErrorIs(t, err, apperr.ErrNotAssigned)

	_, err = f.feedback.Submit(f.ctx, actorOf(f.resident), inc.ID, models.FeedbackSubmission{FeedbackText: "I saw it"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.feedback.Submit(f.ctx, actorOf(f.guard), inc.ID, models.FeedbackSubmission{FeedbackText: "   "})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	other := f.report(t, "Unstarted")
	_, err = f.incidents.Assign(f.ctx, actorOf(f.admin), other.ID, models.AssignRequest{AssigneeID: f.guard.ID})
	require.NoError(t, err)
	_, err = f.feedback.Submit(f.ctx, actorOf(f.guard), other.ID, models.FeedbackSubmission{FeedbackText: "Early"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	assert.Equal(t, models.StatusInProgress, f.get(t, inc.ID).Status)
}

func TestApproveTwiceIsAlreadyDecided(t *testing.T) {
	f := newFixture(t)
	inc, fb := f.submitted(t)

	first, err := f.feedback.Approve(f.ctx, actorOf(f.admin), fb.ID)
	require.NoError(t, err)
	require.NotNil(t, first.AdminApprovedAt)
	assert.Equal(t, models.FeedbackApproved, first.Status)
	assert.Equal(t, f.admin.ID, *first.AdminApprovedBy)

	time.Sleep(time.Millisecond)
	_, err = f.feedback.Approve(f.ctx, actorOf(f.superAdmin), fb.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyDecided)

	stored, err := f.store.GetFeedback(f.ctx, fb.ID)
	require.NoError(t, err)
	assert.True(t, first.AdminApprovedAt.Equal(*stored.AdminApprovedAt))
	assert.Equal(t, f.admin.ID, *stored.AdminApprovedBy)
	assert.Equal(t, models.StatusFeedbackApproved, f.get(t, inc.ID).Status)

	guardNotes := f.notificationsFor(f.guard.ID)
	assert.Equal(t, models.NotifyFeedbackApproved, guardNotes[len(guardNotes)-1].Type)
}

func TestApproveRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	_, fb := f.submitted(t)

	_, err := f.feedback.Approve(f.ctx, actorOf(f.guard), fb.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.feedback.Approve(f.ctx, actorOf(f.admin), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRejectReturnsToInProgress(t *testing.T) {
	f := newFixture(t)
	inc, fb := f.submitted(t)

	rejected, err := f.feedback.Reject(f.ctx, actorOf(f.admin), fb.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackRejected, rejected.Status)
	assert.Nil(t, rejected.AdminApprovedAt)

	current := f.get(t, inc.ID)
	assert.Equal(t, models.StatusInProgress, current.Status)
	assert.Equal(t, f.guard.ID, *current.AssignedTo)

	guardNotes := f.notificationsFor(f.guard.ID)
	last := guardNotes[len(guardNotes)-1]
	assert.Equal(t, models.NotifyIncidentUpdated, last.Type)
	assert.True(t, last.ActionRequired)

	_, err = f.feedback.Approve(f.ctx, actorOf(f.admin), fb.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyDecided)

	again, err := f.feedback.Submit(f.ctx, actorOf(f.guard), inc.ID, models.FeedbackSubmission{FeedbackText: "Second visit"})
	require.NoError(t, err)
	_, err = f.feedback.Approve(f.ctx, actorOf(f.admin), again.ID)
	require.NoError(t, err)

	history, err := f.feedback.ListForIncident(f.ctx, actorOf(f.resident), inc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	f.requireConsistent(t)
}

func TestRejectRollsBackOnAuditFailure(t *testing.T) {
	f := newFixture(t)
	inc, fb := f.submitted(t)

	f.store.Fail = func(op string) error {
		if op == "update_feedback" {
			return apperr.New(apperr.KindUnavailable, "database unavailable")
		}
		return nil
	}
	_, err := f.feedback.Reject(f.ctx, actorOf(f.admin), fb.ID)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	f.store.Fail = nil

	assert.Equal(t, models.StatusFeedbackPending, f.get(t, inc.ID).Status)
	stored, err := f.store.GetFeedback(f.ctx, fb.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackSubmitted, stored.Status)
}

func TestReporterApprove(t *testing.T) {
	f := newFixture(t)
	_, fb := f.submitted(t)

	_, err := f.feedback.ReporterApprove(f.ctx, actorOf(f.neighbor), fb.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	got, err := f.feedback.ReporterApprove(f.ctx, actorOf(f.resident), fb.ID)
	require.NoError(t, err)
	assert.True(t, got.ApprovedByReporter)
	assert.NotNil(t, got.ReporterApprovedAt)
	assert.Equal(t, models.FeedbackSubmitted, got.Status, "reporter sign-off does not decide the feedback")

	_, err = f.feedback.ReporterApprove(f.ctx, actorOf(f.resident), fb.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyDecided)

	_, err = f.feedback.Approve(f.ctx, actorOf(f.admin), fb.ID)
	require.NoError(t, err)
}

func TestListFeedback(t *testing.T) {
	f := newFixture(t)
	_, fb := f.submitted(t)

	all, err := f.feedback.List(f.ctx, actorOf(f.admin), models.FeedbackFilter{Status: models.FeedbackSubmitted})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, fb.ID, all[0].ID)

	own, err := f.feedback.List(f.ctx, actorOf(f.guard), models.FeedbackFilter{})
	require.NoError(t, err)
	assert.Len(t, own, 1)

	none, err := f.feedback.List(f.ctx, actorOf(f.guard2), models.FeedbackFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.feedback.List(f.ctx, actorOf(f.resident), models.FeedbackFilter{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestReturningToInProgressWithdrawsOpenFeedback(t *testing.T) {
	f := newFixture(t)
	inc, stale := f.submitted(t)

	_, err := f.incidents.Transition(f.ctx, actorOf(f.admin), inc.ID, models.StatusInProgress)
	require.NoError(t, err)

	stored, err := f.store.GetFeedback(f.ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackRejected, stored.Status)

	withdrawn := false
	for _, entry := range f.store.AuditLogs() {
		if entry.RecordID != nil && *entry.RecordID == stale.ID && entry.Action == AuditFeedbackNo {
			withdrawn = true
		}
	}
	assert.True(t, withdrawn, "withdrawal is audited")

	fresh, err := f.feedback.Submit(f.ctx, actorOf(f.guard), inc.ID, models.FeedbackSubmission{FeedbackText: "Second visit"})
	require.NoError(t, err)
	_, err = f.feedback.Approve(f.ctx, actorOf(f.admin), fresh.ID)
	require.NoError(t, err)

	_, err = f.feedback.Approve(f.ctx, actorOf(f.admin), stale.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyDecided)
	_, err = f.feedback.Reject(f.ctx, actorOf(f.admin), stale.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyDecided)
	assert.Equal(t, models.StatusFeedbackApproved, f.get(t, inc.ID).Status)
}

func TestDecisionRequiresFeedbackReview(t *testing.T) {
	f := newFixture(t)
	inc := f.inProgress(t)

	// A submitted row left behind on an incident that is no longer in review
	orphan := models.IncidentFeedback{
		ID:           uuid.New(),
		IncidentID:   inc.ID,
		SecurityID:   f.guard.ID,
		FeedbackText: "Left over",
		Status:       models.FeedbackSubmitted,
		SubmittedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateFeedback(f.ctx, orphan))

	_, err := f.feedback.Approve(f.ctx, actorOf(f.admin), orphan.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = f.feedback.Reject(f.ctx, actorOf(f.admin), orphan.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	assert.Equal(t, models.StatusInProgress, f.get(t, inc.ID).Status)
	stored, err := f.store.GetFeedback(f.ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackSubmitted, stored.Status)
}

func statusNotices(notes []models.Notification) []models.Notification {
	var out []models.Notification
	for _, n := range notes {
		if n.Type == models.NotifyStatusChanged {
			out = append(out, n)
		}
	}
	return out
}

func TestFeedbackDecisionsNotifyReporterOnce(t *testing.T) {
	f := newFixture(t)

	_, fb := f.submitted(t)
	before := len(statusNotices(f.notificationsFor(f.resident.ID)))
	_, err := f.feedback.Approve(f.ctx, actorOf(f.admin), fb.ID)
	require.NoError(t, err)
	notes := statusNotices(f.notificationsFor(f.resident.ID))
	require.Len(t, notes, before+1)
	assert.Contains(t, notes[len(notes)-1].Message, "feedback approved")

	_, fb = f.submitted(t)
	before = len(statusNotices(f.notificationsFor(f.resident.ID)))
	_, err = f.feedback.Reject(f.ctx, actorOf(f.admin), fb.ID)
	require.NoError(t, err)
	notes = statusNotices(f.notificationsFor(f.resident.ID))
	require.Len(t, notes, before+1)
	assert.Contains(t, notes[len(notes)-1].Message, "in progress")
}
