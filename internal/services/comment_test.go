package services

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
)

func TestInternalCommentsHiddenFromResidents(t *testing.T) {
	f := newFixture(t)
	inc := f.inProgress(t)

	_, err := f.comments.Add(f.ctx, actorOf(f.resident), inc.ID, models.CommentInput{Content: "psst", IsInternal: true})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	public, err := f.comments.Add(f.ctx, actorOf(f.guard), inc.ID, models.CommentInput{Content: "On my way"})
	require.NoError(t, err)
	assert.Equal(t, "gus", public.AuthorName)
	assert.Equal(t, models.RoleSecurity, public.AuthorRole)

	_, err = f.comments.Add(f.ctx, actorOf(f.guard), inc.ID, models.CommentInput{Content: "Known repeat offender", IsInternal: true})
	require.NoError(t, err)

	residentView, err := f.comments.List(f.ctx, actorOf(f.resident), inc.ID)
	require.NoError(t, err)
	require.Len(t, residentView, 1)
	assert.Equal(t, public.ID, residentView[0].ID)

	staffView, err := f.comments.List(f.ctx, actorOf(f.admin), inc.ID)
	require.NoError(t, err)
	assert.Len(t, staffView, 2)
}

func TestCommentNotifiesReporter(t *testing.T) {
	f := newFixture(t)
	inc := f.inProgress(t)
	before := len(f.notificationsFor(f.resident.ID))

	_, err := f.comments.Add(f.ctx, actorOf(f.guard), inc.ID, models.CommentInput{Content: "Checked the alley"})
	require.NoError(t, err)
	notes := f.notificationsFor(f.resident.ID)
	require.Len(t, notes, before+1)
	assert.Equal(t, models.NotifyCommentAdded, notes[len(notes)-1].Type)

	_, err = f.comments.Add(f.ctx, actorOf(f.guard), inc.ID, models.CommentInput{Content: "internal", IsInternal: true})
	require.NoError(t, err)
	assert.Len(t, f.notificationsFor(f.resident.ID), before+1)
}

func TestCommentThreading(t *testing.T) {
	f := newFixture(t)
	first := f.report(t, "First")
	second := f.report(t, "Second")

	parent, err := f.comments.Add(f.ctx, actorOf(f.resident), first.ID, models.CommentInput{Content: "Any update?"})
	require.NoError(t, err)

	reply, err := f.comments.Add(f.ctx, actorOf(f.admin), first.ID, models.CommentInput{Content: "Soon", ParentID: &parent.ID})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, *reply.ParentID)

	_, err = f.comments.Add(f.ctx, actorOf(f.resident), second.ID, models.CommentInput{Content: "Wrong thread", ParentID: &parent.ID})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.comments.Add(f.ctx, actorOf(f.resident), first.ID, models.CommentInput{Content: ""})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCommentParentLookupErrors(t *testing.T) {
	f := newFixture(t)
	inc := f.report(t, "Gate left open")
	missing := uuid.New()

	_, err := f.comments.Add(f.ctx, actorOf(f.resident), inc.ID, models.CommentInput{Content: "Reply", ParentID: &missing})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	parent, err := f.comments.Add(f.ctx, actorOf(f.resident), inc.ID, models.CommentInput{Content: "Any update?"})
	require.NoError(t, err)

	// A failing read is a server fault, not a bad request
	f.store.Fail = func(op string) error {
		if op == "get_comment" {
			return apperr.Wrap(apperr.KindUnavailable, "database unavailable", errors.New("connection reset"))
		}
		return nil
	}
	_, err = f.comments.Add(f.ctx, actorOf(f.admin), inc.ID, models.CommentInput{Content: "Soon", ParentID: &parent.ID})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	assert.NotErrorIs(t, err, apperr.ErrValidation)

	f.store.Fail = func(op string) error {
		if op == "get_comment" {
			return errors.New("connection reset")
		}
		return nil
	}
	_, err = f.comments.Add(f.ctx, actorOf(f.admin), inc.ID, models.CommentInput{Content: "Soon", ParentID: &parent.ID})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}
