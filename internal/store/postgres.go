package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store with raw SQL over pgx
type PostgresStore struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

// NewPostgresStore wraps a connection pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return translate(s.pool.Ping(ctx), "database")
}

// WithTx runs fn inside a transaction. Nested calls reuse the outer one.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{pool: s.pool, db: tx, inTx: true})
	})
	return translate(err, "transaction")
}

const profileColumns = `id, username, full_name, email, role, avatar_url, phone, address,
	notification_preferences, is_active, last_seen, created_at, updated_at`

func scanProfile(row pgx.Row) (models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.Username, &p.FullName, &p.Email, &p.Role, &p.AvatarURL,
		&p.Phone, &p.Address, &p.NotificationPreferences, &p.IsActive, &p.LastSeen,
		&p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (models.Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	return p, translate(err, "profile")
}

func (s *PostgresStore) ListProfiles(ctx context.Context, filter models.ProfileFilter) ([]models.Profile, error) {
	where, args := profileWhere(filter)
	rows, err := s.db.Query(ctx, `SELECT `+profileColumns+` FROM profiles`+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, translate(err, "profiles")
	}
	defer rows.Close()

	var out []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, translate(err, "profiles")
		}
		out = append(out, p)
	}
	return out, translate(rows.Err(), "profiles")
}

func profileWhere(filter models.ProfileFilter) (string, []any) {
	var conds []string
	var args []any
	if len(filter.Roles) > 0 {
		roles := make([]string, len(filter.Roles))
		for i, r := range filter.Roles {
			roles[i] = string(r)
		}
		args = append(args, roles)
		conds = append(conds, fmt.Sprintf("role = ANY($%d)", len(args)))
	}
	if filter.ActiveOnly {
		conds = append(conds, "is_active")
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(username ILIKE $%d OR full_name ILIKE $%d OR email ILIKE $%d)", n, n, n))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, p models.Profile) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE profiles
		SET full_name = $2, phone = $3, address = $4, avatar_url = $5, role = $6,
			is_active = $7, notification_preferences = $8, updated_at = $9
		WHERE id = $1`,
		p.ID, p.FullName, p.Phone, p.Address, p.AvatarURL, p.Role,
		p.IsActive, nullableJSON(p.NotificationPreferences), p.UpdatedAt)
	if err != nil {
		return translate(err, "profile")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "profile not found")
	}
	return nil
}

func (s *PostgresStore) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE profiles SET last_seen = $2 WHERE id = $1`, id, at)
	return translate(err, "profile")
}

const incidentColumns = `id, title, description, location_lat, location_lng, address, status, priority,
	reporter_id, assigned_to, assigned_by, assigned_at, category, tags, is_anonymous, is_verified,
	resolved_at, created_at, updated_at`

func scanIncident(row pgx.Row) (models.Incident, error) {
	var i models.Incident
	err := row.Scan(&i.ID, &i.Title, &i.Description, &i.LocationLat, &i.LocationLng, &i.Address,
		&i.Status, &i.Priority, &i.ReporterID, &i.AssignedTo, &i.AssignedBy, &i.AssignedAt,
		&i.Category, &i.Tags, &i.IsAnonymous, &i.IsVerified, &i.ResolvedAt, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

func (s *PostgresStore) CreateIncident(ctx context.Context, inc models.Incident) error {
	tags := inc.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		inc.ID, inc.Title, inc.Description, inc.LocationLat, inc.LocationLng, inc.Address,
		inc.Status, inc.Priority, inc.ReporterID, inc.AssignedTo, inc.AssignedBy, inc.AssignedAt,
		inc.Category, tags, inc.IsAnonymous, inc.IsVerified, inc.ResolvedAt, inc.CreatedAt, inc.UpdatedAt)
	return translate(err, "incident")
}

func (s *PostgresStore) GetIncident(ctx context.Context, id uuid.UUID) (models.Incident, error) {
	inc, err := scanIncident(s.db.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	return inc, translate(err, "incident")
}

func (s *PostgresStore) LockIncident(ctx context.Context, id uuid.UUID) (models.Incident, error) {
	inc, err := scanIncident(s.db.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1 FOR UPDATE`, id))
	return inc, translate(err, "incident")
}

func (s *PostgresStore) UpdateIncident(ctx context.Context, inc models.Incident) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE incidents
		SET status = $2, assigned_to = $3, assigned_by = $4, assigned_at = $5,
			resolved_at = $6, is_verified = $7, updated_at = $8
		WHERE id = $1`,
		inc.ID, inc.Status, inc.AssignedTo, inc.AssignedBy, inc.AssignedAt,
		inc.ResolvedAt, inc.IsVerified, inc.UpdatedAt)
	if err != nil {
		return translate(err, "incident")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "incident not found")
	}
	return nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	where, args := incidentWhere(filter)
	query := `SELECT ` + incidentColumns + ` FROM incidents` + where + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err, "incidents")
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, translate(err, "incidents")
		}
		out = append(out, inc)
	}
	return out, translate(rows.Err(), "incidents")
}

func incidentWhere(f models.IncidentFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.IDs) > 0 {
		add("id = ANY($%d)", f.IDs)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.AssignedTo != nil {
		add("assigned_to = $%d", *f.AssignedTo)
	}
	if f.ReporterID != nil {
		add("reporter_id = $%d", *f.ReporterID)
	}
	if f.Unassigned {
		conds = append(conds, "assigned_to IS NULL")
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(title ILIKE $%d OR description ILIKE $%d OR category ILIKE $%d OR address ILIKE $%d)", n, n, n, n))
	}
	if b := f.Bounds; b != nil {
		add("location_lat >= $%d", b.MinLat)
		add("location_lat <= $%d", b.MaxLat)
		add("location_lng >= $%d", b.MinLng)
		add("location_lng <= $%d", b.MaxLng)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) CreateAssignment(ctx context.Context, a models.IncidentAssignment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO incident_assignments (id, incident_id, assigned_to, assigned_by, assigned_at, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.IncidentID, a.AssignedTo, a.AssignedBy, a.AssignedAt, a.Notes, a.Status)
	return translate(err, "assignment")
}

func (s *PostgresStore) ListAssignments(ctx context.Context, incidentID uuid.UUID) ([]models.IncidentAssignment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, incident_id, assigned_to, assigned_by, assigned_at, notes, status
		FROM incident_assignments
		WHERE incident_id = $1
		ORDER BY assigned_at ASC`, incidentID)
	if err != nil {
		return nil, translate(err, "assignments")
	}
	defer rows.Close()

	var out []models.IncidentAssignment
	for rows.Next() {
		var a models.IncidentAssignment
		if err := rows.Scan(&a.ID, &a.IncidentID, &a.AssignedTo, &a.AssignedBy,
			&a.AssignedAt, &a.Notes, &a.Status); err != nil {
			return nil, translate(err, "assignments")
		}
		out = append(out, a)
	}
	return out, translate(rows.Err(), "assignments")
}

const feedbackColumns = `id, incident_id, security_id, feedback_text, status, submitted_at,
	approved_by, approved_at, approved_by_reporter, reporter_approved_at, admin_approved_at, admin_approved_by`

func scanFeedback(row pgx.Row) (models.IncidentFeedback, error) {
	var f models.IncidentFeedback
	err := row.Scan(&f.ID, &f.IncidentID, &f.SecurityID, &f.FeedbackText, &f.Status, &f.SubmittedAt,
		&f.ApprovedBy, &f.ApprovedAt, &f.ApprovedByReporter, &f.ReporterApprovedAt,
		&f.AdminApprovedAt, &f.AdminApprovedBy)
	return f, err
}

func (s *PostgresStore) CreateFeedback(ctx context.Context, f models.IncidentFeedback) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO incident_feedback (`+feedbackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		f.ID, f.IncidentID, f.SecurityID, f.FeedbackText, f.Status, f.SubmittedAt,
		f.ApprovedBy, f.ApprovedAt, f.ApprovedByReporter, f.ReporterApprovedAt,
		f.AdminApprovedAt, f.AdminApprovedBy)
	return translate(err, "feedback")
}

func (s *PostgresStore) GetFeedback(ctx context.Context, id uuid.UUID) (models.IncidentFeedback, error) {
	f, err := scanFeedback(s.db.QueryRow(ctx, `SELECT `+feedbackColumns+` FROM incident_feedback WHERE id = $1`, id))
	return f, translate(err, "feedback")
}

func (s *PostgresStore) LockFeedback(ctx context.Context, id uuid.UUID) (models.IncidentFeedback, error) {
	f, err := scanFeedback(s.db.QueryRow(ctx, `SELECT `+feedbackColumns+` FROM incident_feedback WHERE id = $1 FOR UPDATE`, id))
	return f, translate(err, "feedback")
}

func (s *PostgresStore) UpdateFeedback(ctx context.Context, f models.IncidentFeedback) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE incident_feedback
		SET status = $2, approved_by = $3, approved_at = $4, approved_by_reporter = $5,
			reporter_approved_at = $6, admin_approved_at = $7, admin_approved_by = $8
		WHERE id = $1`,
		f.ID, f.Status, f.ApprovedBy, f.ApprovedAt, f.ApprovedByReporter,
		f.ReporterApprovedAt, f.AdminApprovedAt, f.AdminApprovedBy)
	if err != nil {
		return translate(err, "feedback")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "feedback not found")
	}
	return nil
}

func (s *PostgresStore) ListFeedback(ctx context.Context, filter models.FeedbackFilter) ([]models.IncidentFeedback, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.IncidentID != nil {
		args = append(args, *filter.IncidentID)
		conds = append(conds, fmt.Sprintf("incident_id = $%d", len(args)))
	}
	if filter.SecurityID != nil {
		args = append(args, *filter.SecurityID)
		conds = append(conds, fmt.Sprintf("security_id = $%d", len(args)))
	}

	query := `SELECT ` + feedbackColumns + ` FROM incident_feedback`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY submitted_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err, "feedback")
	}
	defer rows.Close()

	var out []models.IncidentFeedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, translate(err, "feedback")
		}
		out = append(out, f)
	}
	return out, translate(rows.Err(), "feedback")
}

func (s *PostgresStore) CreatePhoto(ctx context.Context, p models.IncidentPhoto) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO incident_photos (id, incident_id, photo_url, file_name, file_size, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.IncidentID, p.PhotoURL, p.FileName, p.FileSize, p.UploadedBy, p.CreatedAt)
	return translate(err, "photo")
}

func (s *PostgresStore) ListPhotos(ctx context.Context, incidentID uuid.UUID) ([]models.IncidentPhoto, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, incident_id, photo_url, file_name, file_size, uploaded_by, created_at
		FROM incident_photos
		WHERE incident_id = $1
		ORDER BY created_at ASC`, incidentID)
	if err != nil {
		return nil, translate(err, "photos")
	}
	defer rows.Close()

	var out []models.IncidentPhoto
	for rows.Next() {
		var p models.IncidentPhoto
		if err := rows.Scan(&p.ID, &p.IncidentID, &p.PhotoURL, &p.FileName, &p.FileSize,
			&p.UploadedBy, &p.CreatedAt); err != nil {
			return nil, translate(err, "photos")
		}
		out = append(out, p)
	}
	return out, translate(rows.Err(), "photos")
}

func (s *PostgresStore) CreateComment(ctx context.Context, c models.Comment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO comments (id, incident_id, user_id, content, is_internal, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.IncidentID, c.UserID, c.Content, c.IsInternal, c.ParentID, c.CreatedAt, c.UpdatedAt)
	return translate(err, "comment")
}

const commentSelect = `
	SELECT c.id, c.incident_id, c.user_id, c.content, c.is_internal, c.parent_id, c.created_at, c.updated_at,
		COALESCE(NULLIF(p.full_name, ''), p.username, ''), COALESCE(p.role, '')
	FROM comments c
	LEFT JOIN profiles p ON p.id = c.user_id`

func scanComment(row pgx.Row) (models.Comment, error) {
	var c models.Comment
	err := row.Scan(&c.ID, &c.IncidentID, &c.UserID, &c.Content, &c.IsInternal, &c.ParentID,
		&c.CreatedAt, &c.UpdatedAt, &c.AuthorName, &c.AuthorRole)
	return c, err
}

func (s *PostgresStore) GetComment(ctx context.Context, id uuid.UUID) (models.Comment, error) {
	c, err := scanComment(s.db.QueryRow(ctx, commentSelect+` WHERE c.id = $1`, id))
	return c, translate(err, "comment")
}

func (s *PostgresStore) ListComments(ctx context.Context, incidentID uuid.UUID, includeInternal bool) ([]models.Comment, error) {
	query := commentSelect + ` WHERE c.incident_id = $1`
	if !includeInternal {
		query += ` AND NOT c.is_internal`
	}
	query += ` ORDER BY c.created_at ASC`

	rows, err := s.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, translate(err, "comments")
	}
	defer rows.Close()

	var out []models.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, translate(err, "comments")
		}
		out = append(out, c)
	}
	return out, translate(rows.Err(), "comments")
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n models.Notification) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, incident_id, type, title, message, is_read, priority,
			action_required, action_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.UserID, n.IncidentID, n.Type, n.Title, n.Message, n.IsRead, n.Priority,
		n.ActionRequired, n.ActionURL, n.CreatedAt)
	return translate(err, "notification")
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, incident_id, type, title, message, is_read, priority,
			action_required, action_url, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, translate(err, "notifications")
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.IncidentID, &n.Type, &n.Title, &n.Message,
			&n.IsRead, &n.Priority, &n.ActionRequired, &n.ActionURL, &n.CreatedAt); err != nil {
			return nil, translate(err, "notifications")
		}
		out = append(out, n)
	}
	return out, translate(rows.Err(), "notifications")
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&n)
	return n, translate(err, "notifications")
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return translate(err, "notification")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "notification not found")
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, translate(err, "notifications")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CreateAuditLog(ctx context.Context, e models.AuditLog) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, action, table_name, record_id, old_values, new_values,
			ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.UserID, e.Action, e.TableName, e.RecordID,
		nullableJSON(e.OldValues), nullableJSON(e.NewValues), e.IPAddress, e.UserAgent, e.CreatedAt)
	return translate(err, "audit log")
}

func (s *PostgresStore) ListAuditLogs(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	var conds []string
	var args []any
	if filter.TableName != "" {
		args = append(args, filter.TableName)
		conds = append(conds, fmt.Sprintf("table_name = $%d", len(args)))
	}
	if filter.RecordID != nil {
		args = append(args, *filter.RecordID)
		conds = append(conds, fmt.Sprintf("record_id = $%d", len(args)))
	}

	query := `SELECT id, user_id, action, table_name, record_id, old_values, new_values,
		ip_address, user_agent, created_at FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if filter.Ascending {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err, "audit logs")
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		var e models.AuditLog
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.TableName, &e.RecordID,
			&e.OldValues, &e.NewValues, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, translate(err, "audit logs")
		}
		out = append(out, e)
	}
	return out, translate(rows.Err(), "audit logs")
}

func (s *PostgresStore) CountIncidents(ctx context.Context, since time.Time) (IncidentCounts, error) {
	var c IncidentCounts
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status NOT IN ('resolved', 'closed')),
			COUNT(*) FILTER (WHERE status IN ('resolved', 'closed')),
			COUNT(*) FILTER (WHERE assigned_to IS NULL),
			COUNT(*) FILTER (WHERE priority IN ('high', 'critical')),
			COUNT(*) FILTER (WHERE created_at >= $1)
		FROM incidents`, since).
		Scan(&c.Total, &c.Active, &c.Resolved, &c.Unassigned, &c.HighPriority, &c.Recent)
	return c, translate(err, "incident counts")
}

func (s *PostgresStore) CountProfiles(ctx context.Context, filter models.ProfileFilter) (int, error) {
	where, args := profileWhere(filter)
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM profiles`+where, args...).Scan(&n)
	return n, translate(err, "profile count")
}

func (s *PostgresStore) CountFeedback(ctx context.Context, status models.FeedbackStatus) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM incident_feedback WHERE status = $1`, status).Scan(&n)
	return n, translate(err, "feedback count")
}

func (s *PostgresStore) CountUserActivity(ctx context.Context, userID uuid.UUID) (UserActivity, error) {
	var a UserActivity
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM incidents WHERE reporter_id = $1),
			(SELECT COUNT(*) FROM comments WHERE user_id = $1)`, userID).
		Scan(&a.IncidentsReported, &a.CommentsPosted)
	return a, translate(err, "user activity")
}

func (s *PostgresStore) CategoryDistribution(ctx context.Context) ([]models.CategoryDistribution, error) {
	rows, err := s.db.Query(ctx, `
		SELECT category, COUNT(*) AS count
		FROM incidents
		GROUP BY category
		ORDER BY count DESC, category ASC`)
	if err != nil {
		return nil, translate(err, "categories")
	}
	defer rows.Close()

	var cats []models.CategoryDistribution
	for rows.Next() {
		var c models.CategoryDistribution
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, translate(err, "categories")
		}
		cats = append(cats, c)
	}
	return cats, translate(rows.Err(), "categories")
}

func (s *PostgresStore) DailyTrends(ctx context.Context, since time.Time) ([]models.AnalyticsTrend, error) {
	rows, err := s.db.Query(ctx, `
		SELECT TO_CHAR(DATE_TRUNC('day', created_at), 'YYYY-MM-DD') AS date, COUNT(*) AS count
		FROM incidents
		WHERE created_at >= $1
		GROUP BY 1
		ORDER BY 1 ASC`, since)
	if err != nil {
		return nil, translate(err, "trends")
	}
	defer rows.Close()

	var trends []models.AnalyticsTrend
	for rows.Next() {
		var t models.AnalyticsTrend
		if err := rows.Scan(&t.Date, &t.Count); err != nil {
			return nil, translate(err, "trends")
		}
		trends = append(trends, t)
	}
	return trends, translate(rows.Err(), "trends")
}

// nullableJSON stores empty documents as SQL NULL
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ Store = (*PostgresStore)(nil)
