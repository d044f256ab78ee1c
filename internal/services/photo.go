package services

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/rbac"
	"github.com/neighborwatch/incident-server/internal/storage"
	"github.com/neighborwatch/incident-server/internal/store"
)

// Upload is one image sent for an incident
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// PhotoService stores incident photos in object storage
type PhotoService struct {
	store    store.Store
	objects  storage.ObjectStore
	policy   *rbac.Policy
	audit    *AuditService
	maxBytes int64
	logger   *zap.SugaredLogger
}

// NewPhotoService creates a new photo service. objects may be nil when
// object storage is not configured; uploads then fail as unavailable.
func NewPhotoService(st store.Store, objects storage.ObjectStore, policy *rbac.Policy, audit *AuditService, maxBytes int64, logger *zap.SugaredLogger) *PhotoService {
	return &PhotoService{
		store:    st,
		objects:  objects,
		policy:   policy,
		audit:    audit,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// photoExt picks the object key extension from the file name, falling back
// to the content type
func photoExt(fileName, contentType string) string {
	if ext := strings.ToLower(path.Ext(fileName)); ext != "" && len(ext) <= 5 {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// Upload validates and stores an image, then records it on the incident
func (s *PhotoService) Upload(ctx context.Context, actor models.Actor, incidentID uuid.UUID, up Upload) (models.IncidentPhoto, error) {
	if !s.policy.HasPermission(actor, rbac.ActionPhotoUpload, rbac.Target{}) {
		return models.IncidentPhoto{}, apperr.ErrForbidden
	}
	if s.objects == nil {
		return models.IncidentPhoto{}, apperr.New(apperr.KindUnavailable, "photo storage is not configured")
	}
	mediaType, _, err := mime.ParseMediaType(up.ContentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return models.IncidentPhoto{}, apperr.New(apperr.KindValidation, "only image uploads are accepted")
	}
	if up.Size <= 0 {
		return models.IncidentPhoto{}, apperr.New(apperr.KindValidation, "file is empty")
	}
	if up.Size > s.maxBytes {
		return models.IncidentPhoto{}, apperr.Newf(apperr.KindValidation, "file exceeds %d bytes", s.maxBytes)
	}
	if _, err := s.store.GetIncident(ctx, incidentID); err != nil {
		return models.IncidentPhoto{}, err
	}

	id := uuid.New()
	key := incidentID.String() + "/" + id.String() + photoExt(up.FileName, mediaType)
	url, err := s.objects.Put(ctx, key, up.Body, up.Size, mediaType)
	if err != nil {
		s.logger.Errorw("Photo upload failed", "incident_id", incidentID, "key", key, "error", err)
		return models.IncidentPhoto{}, apperr.Wrap(apperr.KindUnavailable, "photo storage failed", err)
	}

	now := time.Now().UTC()
	uploader := actor.ID
	photo := models.IncidentPhoto{
		ID:         id,
		IncidentID: incidentID,
		PhotoURL:   url,
		FileName:   path.Base(up.FileName),
		FileSize:   up.Size,
		UploadedBy: &uploader,
		CreatedAt:  now,
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreatePhoto(ctx, photo); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			Actor:     actor.ID,
			Action:    AuditPhotoUpload,
			TableName: "incident_photos",
			RecordID:  id,
			New:       map[string]any{"incident_id": incidentID, "key": key, "size": up.Size},
		}, now)
	})
	if err != nil {
		if rmErr := s.objects.Remove(context.WithoutCancel(ctx), key); rmErr != nil {
			s.logger.Warnw("Failed to remove orphaned photo", "key", key, "error", rmErr)
		}
		return models.IncidentPhoto{}, err
	}

	s.logger.Infow("Photo uploaded", "incident_id", incidentID, "photo_id", id, "size", up.Size)
	return photo, nil
}

// List returns an incident's photos, oldest first
func (s *PhotoService) List(ctx context.Context, actor models.Actor, incidentID uuid.UUID) ([]models.IncidentPhoto, error) {
	if !s.policy.HasPermission(actor, rbac.ActionIncidentRead, rbac.Target{}) {
		return nil, apperr.ErrForbidden
	}
	if _, err := s.store.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}
	out, err := s.store.ListPhotos(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.IncidentPhoto{}
	}
	return out, nil
}
