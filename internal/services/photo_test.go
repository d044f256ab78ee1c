package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/apperr"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return "https://cdn.example.com/" + key, nil
}

func (m *memObjects) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func newPhotoService(f *fixture, objects *memObjects) *PhotoService {
	if objects == nil {
		return NewPhotoService(f.store, nil, f.policy, f.audit, 1024, zap.NewNop().Sugar())
	}
	return NewPhotoService(f.store, objects, f.policy, f.audit, 1024, zap.NewNop().Sugar())
}

func jpeg(size int) Upload {
	return Upload{
		FileName:    "evidence.JPG",
		ContentType: "image/jpeg",
		Size:        int64(size),
		Body:        bytes.NewReader(make([]byte, size)),
	}
}

func TestUploadPhoto(t *testing.T) {
	f := newFixture(t)
	objects := &memObjects{objects: map[string][]byte{}}
	photos := newPhotoService(f, objects)
	inc := f.report(t, "Smashed mailbox")

	got, err := photos.Upload(f.ctx, actorOf(f.resident), inc.ID, jpeg(512))
	require.NoError(t, err)

	key := inc.ID.String() + "/" + got.ID.String() + ".jpg"
	assert.Contains(t, objects.objects, key)
	assert.Equal(t, "https://cdn.example.com/"+key, got.PhotoURL)
	assert.Equal(t, "evidence.JPG", got.FileName)
	assert.Equal(t, int64(512), got.FileSize)

	list, err := photos.List(f.ctx, actorOf(f.neighbor), inc.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, got.ID, list[0].ID)
}

func TestUploadPhotoValidation(t *testing.T) {
	f := newFixture(t)
	objects := &memObjects{objects: map[string][]byte{}}
	photos := newPhotoService(f, objects)
	inc := f.report(t, "Smashed mailbox")

	tooBig := jpeg(2048)
	_, err := photos.Upload(f.ctx, actorOf(f.resident), inc.ID, tooBig)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	notImage := jpeg(10)
	notImage.ContentType = "application/pdf"
	_, err = photos.Upload(f.ctx, actorOf(f.resident), inc.ID, notImage)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = photos.Upload(f.ctx, actorOf(f.resident), uuid.New(), jpeg(10))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Empty(t, objects.objects)
}

func TestUploadPhotoStorageFailures(t *testing.T) {
	f := newFixture(t)
	inc := f.report(t, "Smashed mailbox")

	_, err := newPhotoService(f, nil).Upload(f.ctx, actorOf(f.resident), inc.ID, jpeg(10))
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	broken := &memObjects{objects: map[string][]byte{}, putErr: errors.New("bucket gone")}
	_, err = newPhotoService(f, broken).Upload(f.ctx, actorOf(f.resident), inc.ID, jpeg(10))
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	objects := &memObjects{objects: map[string][]byte{}}
	f.store.Fail = func(op string) error {
		if op == "create_photo" {
			return errors.New("insert failed")
		}
		return nil
	}
	_, err = newPhotoService(f, objects).Upload(f.ctx, actorOf(f.resident), inc.ID, jpeg(10))
	require.Error(t, err)
	assert.Empty(t, objects.objects, "orphaned object is removed")
}

func TestPhotoExt(t *testing.T) {
	assert.Equal(t, ".png", photoExt("a.PNG", "image/png"))
	assert.Equal(t, ".bin", photoExt("", "image/x-unknown-format"))
	assert.True(t, strings.HasPrefix(photoExt("noext", "image/png"), "."))
}
