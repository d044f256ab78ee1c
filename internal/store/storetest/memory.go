// Package storetest provides an in-memory store.Store for service and
// handler tests. Transactions snapshot every table and restore it when the
// callback fails.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/store"
)

type tables struct {
	profiles      []models.Profile
	incidents     []models.Incident
	assignments   []models.IncidentAssignment
	feedback      []models.IncidentFeedback
	photos        []models.IncidentPhoto
	comments      []models.Comment
	notifications []models.Notification
	audit         []models.AuditLog
}

func (t tables) clone() tables {
	return tables{
		profiles:      append([]models.Profile(nil), t.profiles...),
		incidents:     append([]models.Incident(nil), t.incidents...),
		assignments:   append([]models.IncidentAssignment(nil), t.assignments...),
		feedback:      append([]models.IncidentFeedback(nil), t.feedback...),
		photos:        append([]models.IncidentPhoto(nil), t.photos...),
		comments:      append([]models.Comment(nil), t.comments...),
		notifications: append([]models.Notification(nil), t.notifications...),
		audit:         append([]models.AuditLog(nil), t.audit...),
	}
}

type state struct {
	mu   sync.Mutex
	txMu sync.Mutex
	t    tables
}

// Memory is an in-memory Store
type Memory struct {
	st   *state
	inTx bool

	// Fail, when set, is consulted before every write and before
	// GetComment; a non-nil return aborts the call with that error.
	Fail func(op string) error
}

// New returns an empty store
func New() *Memory {
	return &Memory{st: &state{}}
}

func (m *Memory) fail(op string) error {
	if m.Fail != nil {
		return m.Fail(op)
	}
	return nil
}

// AddProfile seeds a profile and returns it
func (m *Memory) AddProfile(p models.Profile) models.Profile {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
		p.UpdatedAt = p.CreatedAt
	}
	m.st.mu.Lock()
	m.st.t.profiles = append(m.st.t.profiles, p)
	m.st.mu.Unlock()
	return p
}

// Incidents returns every stored incident
func (m *Memory) Incidents() []models.Incident {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	out := make([]models.Incident, len(m.st.t.incidents))
	for i, inc := range m.st.t.incidents {
		out[i] = inc.Clone()
	}
	return out
}

// AuditLogs returns every stored audit entry in insertion order
func (m *Memory) AuditLogs() []models.AuditLog {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	return append([]models.AuditLog(nil), m.st.t.audit...)
}

// Notifications returns every stored notification in insertion order
func (m *Memory) Notifications() []models.Notification {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	return append([]models.Notification(nil), m.st.t.notifications...)
}

func (m *Memory) Ping(context.Context) error {
	return m.fail("ping")
}

func (m *Memory) WithTx(_ context.Context, fn func(tx store.Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.st.txMu.Lock()
	defer m.st.txMu.Unlock()

	m.st.mu.Lock()
	snapshot := m.st.t.clone()
	m.st.mu.Unlock()

	if err := fn(&Memory{st: m.st, inTx: true, Fail: m.Fail}); err != nil {
		m.st.mu.Lock()
		m.st.t = snapshot
		m.st.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) GetProfile(_ context.Context, id uuid.UUID) (models.Profile, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for _, p := range m.st.t.profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Profile{}, apperr.New(apperr.KindNotFound, "profile not found")
}

func matchProfile(p models.Profile, f models.ProfileFilter) bool {
	if len(f.Roles) > 0 {
		found := false
		for _, r := range f.Roles {
			if p.Role == r {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if f.ActiveOnly && !p.IsActive {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Username+" "+p.FullName+" "+p.Email), q) {
			return false
		}
	}
	return true
}

func (m *Memory) ListProfiles(_ context.Context, f models.ProfileFilter) ([]models.Profile, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []models.Profile
	for i := len(m.st.t.profiles) - 1; i >= 0; i-- {
		if p := m.st.t.profiles[i]; matchProfile(p, f) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) UpdateProfile(_ context.Context, p models.Profile) error {
	if err := m.fail("update_profile"); err != nil {
		return err
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for i := range m.st.t.profiles {
		if m.st.t.profiles[i].ID == p.ID {
			m.st.t.profiles[i] = p
			return nil
		}
	}
	return apperr.New(apperr.KindNotFound, "profile not found")
}

func (m *Memory) TouchLastSeen(_ context.Context, id uuid.UUID, at time.Time) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for i := range m.st.t.profiles {
		if m.st.t.profiles[i].ID == id {
			m.st.t.profiles[i].LastSeen = &at
		}
	}
	return nil
}

func (m *Memory) CreateIncident(_ context.Context, inc models.Incident) error {
	if err := m.fail("create_incident"); err != nil {
		return err
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.t.incidents = append(m.st.t.incidents, inc.Clone())
	return nil
}

func (m *Memory) GetIncident(_ context.Context, id uuid.UUID) (models.Incident, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for _, inc := range m.st.t.incidents {
		if inc.ID == id {
			return inc.Clone(), nil
		}
	}
	return models.Incident{}, apperr.New(apperr.KindNotFound, "incident not found")
}

func (m *Memory) LockIncident(ctx context.Context, id uuid.UUID) (models.Incident, error) {
	return m.GetIncident(ctx, id)
}

func (m *Memory) UpdateIncident(_ context.Context, inc models.Incident) error {
	if err := m.fail("update_incident"); err != nil {
		return err
	}
	if (inc.Status == models.StatusReported) != (inc.AssignedTo == nil) {
		return apperr.New(apperr.KindValidation, "incident violates a constraint")
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for i := range m.st.t.incidents {
		if m.st.t.incidents[i].ID == inc.ID {
			m.st.t.incidents[i] = inc.Clone()
			return nil
		}
	}
	return apperr.New(apperr.KindNotFound, "incident not found")
}

func matchIncident(inc models.Incident, f models.IncidentFilter) bool {
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if inc.ID == id {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != "" && inc.Status != f.Status {
		return false
	}
	if f.Priority != "" && inc.Priority != f.Priority {
		return false
	}
	if f.Category != "" && inc.Category != f.Category {
		return false
	}
	if f.AssignedTo != nil && !inc.IsAssignedTo(*f.AssignedTo) {
		return false
	}
	if f.ReporterID != nil && !inc.IsReportedBy(*f.ReporterID) {
		return false
	}
	if f.Unassigned && inc.AssignedTo != nil {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		hay := strings.ToLower(strings.Join([]string{inc.Title, inc.Description, inc.Category, inc.Address}, " "))
		if !strings.Contains(hay, q) {
			return false
		}
	}
	if f.Bounds != nil && !f.Bounds.Contains(inc.LocationLat, inc.LocationLng) {
		return false
	}
	return true
}

func (m *Memory) ListIncidents(_ context.Context, f models.IncidentFilter) ([]models.Incident, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []models.Incident
	for i := len(m.st.t.incidents) - 1; i >= 0; i-- {
		if inc := m.st.t.incidents[i]; matchIncident(inc, f) {
			out = append(out, inc.Clone())
		}
	}
	return page(out, f.Offset, f.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (m *Memory) CreateAssignment(_ context.Context, a models.IncidentAssignment) error {
	if err := m.fail("create_assignment"); err != nil {
		return err
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.t.assignments = append(m.st.t.assignments, a)
	return nil
}

func (m *Memory) ListAssignments(_ context.Context, incidentID uuid.UUID) ([]models.IncidentAssignment, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []models.IncidentAssignment
	for _, a := range m.st.t.assignments {
		if a.IncidentID == incidentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) CreateFeedback(_ context.Context, f models.IncidentFeedback) error {
	if err := m.fail("create_feedback"); err != nil {
		return err
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.t.feedback = append(m.st.t.feedback, f)
	return nil
}

func (m *Memory) GetFeedback(_ context.Context, id uuid.UUID) (models.IncidentFeedback, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for _, f := range m.st.t.feedback {
		if f.ID == id {
			return f, nil
		}
	}
	return models.IncidentFeedback{}, apperr.New(apperr.KindNotFound, "feedback not found")
}

func (m *Memory) LockFeedback(ctx context.Context, id uuid.UUID) (models.IncidentFeedback, error) {
	return m.GetFeedback(ctx, id)
}

func (m *Memory) UpdateFeedback(_ context.Context, f models.IncidentFeedback) error {
	if err := m.fail("update_feedback"); err != nil {
		return err
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for i := range m.st.t.feedback {
		if m.st.t.feedback[i].ID == f.ID {
			m.st.t.feedback[i] = f
			return nil
		}
	}
	return apperr.New(apperr.KindNotFound, "feedback not found")
}

func (m *Memory) ListFeedback(_ context.Context, filter models.FeedbackFilter) ([]models.IncidentFeedback, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []models.IncidentFeedback
	for i := len(m.st.t.feedback) - 1; i >= 0; i-- {
		f := m.st.t.feedback[i]
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if filter.IncidentID != nil && f.IncidentID != *filter.IncidentID {
			continue
		}
		if filter.SecurityID != nil && f.SecurityID != *filter.SecurityID {
			continue
		}
		out = append(out, f)
	}
	return page(out, 0, filter.Limit), nil
}

func (m *Memory) CreatePhoto(_ context.Context, p models.IncidentPhoto) error {
	if err := m.fail("create_photo"); err != nil {
		return err
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.t.photos = append(m.st.t.photos, p)
	return nil
}

func (m *Memory) ListPhotos(_ context.Context, incidentID uuid.UUID) ([]models.IncidentPhoto, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []models.IncidentPhoto
	for _, p := range m.st.t.photos {
		if p.IncidentID == incidentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) CreateComment(_ context.Context, c models.Comment) error {
	if err := m.fail("create_comment"); err != nil {
		return err
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.t.comments = append(m.st.t.comments, c)
	return nil
}

func (m *Memory) withAuthor(c models.Comment) models.Comment {
	for _, p := range m.st.t.profiles {
		if p.ID == c.UserID {
			c.AuthorName = p.DisplayName()
			c.AuthorRole = p.Role
		}
	}
	return c
}

func (m *Memory) GetComment(_ context.Context, id uuid.UUID) (models.Comment, error) {
	if err := m.fail("get_comment"); err != nil {
		return models.Comment{}, err
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for _, c := range m.st.t.comments {
		if c.ID == id {
			return m.withAuthor(c), nil
		}
	}
	return models.Comment{}, apperr.New(apperr.KindNotFound, "comment not found")
}

func (m *Memory) ListComments(_ context.Context, incidentID uuid.UUID, includeInternal bool) ([]models.Comment, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []models.Comment
	for _, c := range m.st.t.comments {
		if c.IncidentID != incidentID || (c.IsInternal && !includeInternal) {
			continue
		}
		out = append(out, m.withAuthor(c))
	}
	return out, nil
}

func (m *Memory) CreateNotification(_ context.Context, n models.Notification) error {
	if err := m.fail("create_notification"); err != nil {
		return err
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.t.notifications = append(m.st.t.notifications, n)
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []models.Notification
	for i := len(m.st.t.notifications) - 1; i >= 0; i-- {
		if n := m.st.t.notifications[i]; n.UserID == userID {
			out = append(out, n)
		}
	}
	return page(out, 0, limit), nil
}

func (m *Memory) CountUnreadNotifications(_ context.Context, userID uuid.UUID) (int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	count := 0
	for _, n := range m.st.t.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, id, userID uuid.UUID) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for i := range m.st.t.notifications {
		n := &m.st.t.notifications[i]
		if n.ID == id && n.UserID == userID {
			n.IsRead = true
			return nil
		}
	}
	return apperr.New(apperr.KindNotFound, "notification not found")
}

func (m *Memory) MarkAllNotificationsRead(_ context.Context, userID uuid.UUID) (int64, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var count int64
	for i := range m.st.t.notifications {
		n := &m.st.t.notifications[i]
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (m *Memory) CreateAuditLog(_ context.Context, e models.AuditLog) error {
	if err := m.fail("create_audit_log"); err != nil {
		return err
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.t.audit = append(m.st.t.audit, e)
	return nil
}

func (m *Memory) ListAuditLogs(_ context.Context, f models.AuditFilter) ([]models.AuditLog, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []models.AuditLog
	for _, e := range m.st.t.audit {
		if f.TableName != "" && e.TableName != f.TableName {
			continue
		}
		if f.RecordID != nil && (e.RecordID == nil || *e.RecordID != *f.RecordID) {
			continue
		}
		out = append(out, e)
	}
	if !f.Ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return page(out, 0, f.Limit), nil
}

func (m *Memory) CountIncidents(_ context.Context, since time.Time) (store.IncidentCounts, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var c store.IncidentCounts
	for _, inc := range m.st.t.incidents {
		c.Total++
		switch inc.Status {
		case models.StatusResolved, models.StatusClosed:
			c.Resolved++
		default:
			c.Active++
		}
		if inc.AssignedTo == nil {
			c.Unassigned++
		}
		if inc.Priority == models.PriorityHigh || inc.Priority == models.PriorityCritical {
			c.HighPriority++
		}
		if !inc.CreatedAt.Before(since) {
			c.Recent++
		}
	}
	return c, nil
}

func (m *Memory) CountProfiles(_ context.Context, f models.ProfileFilter) (int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	count := 0
	for _, p := range m.st.t.profiles {
		if matchProfile(p, f) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) CountFeedback(_ context.Context, status models.FeedbackStatus) (int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	count := 0
	for _, f := range m.st.t.feedback {
		if f.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *Memory) CountUserActivity(_ context.Context, userID uuid.UUID) (store.UserActivity, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var a store.UserActivity
	for _, inc := range m.st.t.incidents {
		if inc.ReporterID != nil && *inc.ReporterID == userID {
			a.IncidentsReported++
		}
	}
	for _, c := range m.st.t.comments {
		if c.UserID == userID {
			a.CommentsPosted++
		}
	}
	return a, nil
}

func (m *Memory) CategoryDistribution(context.Context) ([]models.CategoryDistribution, error) {
	m.st.mu.Lock()
	counts := map[string]int{}
	for _, inc := range m.st.t.incidents {
		counts[inc.Category]++
	}
	m.st.mu.Unlock()

	out := make([]models.CategoryDistribution, 0, len(counts))
	for cat, n := range counts {
		out = append(out, models.CategoryDistribution{Category: cat, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

func (m *Memory) DailyTrends(_ context.Context, since time.Time) ([]models.AnalyticsTrend, error) {
	m.st.mu.Lock()
	counts := map[string]int{}
	for _, inc := range m.st.t.incidents {
		if !inc.CreatedAt.Before(since) {
			counts[inc.CreatedAt.UTC().Format("2006-01-02")]++
		}
	}
	m.st.mu.Unlock()

	out := make([]models.AnalyticsTrend, 0, len(counts))
	for day, n := range counts {
		out = append(out, models.AnalyticsTrend{Date: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

var _ store.Store = (*Memory)(nil)
