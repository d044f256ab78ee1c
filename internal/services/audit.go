// Package services contains business logic layers.
// Services are called by handlers and interact with the store; every
// mutating operation runs its writes in a single store transaction.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/auth"
	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/rbac"
	"github.com/neighborwatch/incident-server/internal/store"
)

// Audit actions
const (
	AuditCreate        = "create"
	AuditUpdate        = "update"
	AuditStatusChange  = "status_change"
	AuditAssign        = "assign"
	AuditFeedbackAdd   = "feedback_submit"
	AuditFeedbackOK    = "feedback_approve"
	AuditFeedbackNo    = "feedback_reject"
	AuditReporterOK    = "feedback_reporter_approve"
	AuditRoleChange    = "role_change"
	AuditActiveChange  = "active_change"
	AuditPhotoUpload   = "photo_upload"
	AuditCommentCreate = "comment_create"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditEntry describes one mutation to record
type AuditEntry struct {
	Actor     uuid.UUID
	Action    string
	TableName string
	RecordID  uuid.UUID
	Old       any
	New       any
}

// AuditService records and serves the audit trail
type AuditService struct {
	store  store.Store
	policy *rbac.Policy
	logger *zap.SugaredLogger
}

// NewAuditService creates a new audit service
func NewAuditService(st store.Store, policy *rbac.Policy, logger *zap.SugaredLogger) *AuditService {
	return &AuditService{store: st, policy: policy, logger: logger}
}

// Record writes an audit row through tx. Client details come from ctx.
func (s *AuditService) Record(ctx context.Context, tx store.Store, e AuditEntry, now time.Time) error {
	oldJSON, err := marshalValues(e.Old)
	if err != nil {
		return fmt.Errorf("encode old values: %w", err)
	}
	newJSON, err := marshalValues(e.New)
	if err != nil {
		return fmt.Errorf("encode new values: %w", err)
	}

	client := auth.ClientFrom(ctx)
	entry := models.AuditLog{
		ID:        uuid.New(),
		Action:    e.Action,
		TableName: e.TableName,
		OldValues: oldJSON,
		NewValues: newJSON,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		CreatedAt: now,
	}
	if e.Actor != uuid.Nil {
		actor := e.Actor
		entry.UserID = &actor
	}
	if e.RecordID != uuid.Nil {
		rec := e.RecordID
		entry.RecordID = &rec
	}

	if err := tx.CreateAuditLog(ctx, entry); err != nil {
		return err
	}

	s.logger.Infow("Audit logged",
		"user_id", e.Actor,
		"action", e.Action,
		"table", e.TableName,
		"record_id", e.RecordID,
	)
	return nil
}

// Recent returns the newest audit rows
func (s *AuditService) Recent(ctx context.Context, actor models.Actor, limit int) ([]models.AuditLog, error) {
	if !s.policy.HasPermission(actor, rbac.ActionAuditRead, rbac.Target{}) {
		return nil, apperr.New(apperr.KindForbidden, "audit log is restricted to admins")
	}
	return s.store.ListAuditLogs(ctx, models.AuditFilter{Limit: clampLimit(limit, defaultAuditLimit, maxAuditLimit)})
}

// ForRecord returns the history of one row, oldest first
func (s *AuditService) ForRecord(ctx context.Context, actor models.Actor, table string, recordID uuid.UUID) ([]models.AuditLog, error) {
	if !s.policy.HasPermission(actor, rbac.ActionAuditRead, rbac.Target{}) {
		return nil, apperr.New(apperr.KindForbidden, "audit log is restricted to admins")
	}
	return s.store.ListAuditLogs(ctx, models.AuditFilter{
		TableName: table,
		RecordID:  &recordID,
		Ascending: true,
	})
}

func marshalValues(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
