package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/rbac"
	"github.com/neighborwatch/incident-server/internal/store"
)

const (
	recentIncidentCount = 5
	activityWindow      = 7 * 24 * time.Hour
	defaultTrendDays    = 30
	maxTrendDays        = 365
)

// StatsService serves dashboard and analytics aggregates
type StatsService struct {
	store     store.Store
	policy    *rbac.Policy
	incidents *IncidentService
	logger    *zap.SugaredLogger
}

// NewStatsService creates a new stats service
func NewStatsService(st store.Store, policy *rbac.Policy, incidents *IncidentService, logger *zap.SugaredLogger) *StatsService {
	return &StatsService{store: st, policy: policy, incidents: incidents, logger: logger}
}

// Dashboard returns the community summary shown to every user
func (s *StatsService) Dashboard(ctx context.Context, actor models.Actor) (models.DashboardStats, error) {
	if !s.policy.HasPermission(actor, rbac.ActionIncidentRead, rbac.Target{}) {
		return models.DashboardStats{}, apperr.ErrForbidden
	}
	counts, err := s.store.CountIncidents(ctx, time.Now().UTC().Add(-activityWindow))
	if err != nil {
		return models.DashboardStats{}, err
	}
	recent, err := s.incidents.List(ctx, actor, models.IncidentFilter{Limit: recentIncidentCount})
	if err != nil {
		return models.DashboardStats{}, err
	}
	return models.DashboardStats{
		TotalIncidents:    counts.Total,
		ActiveIncidents:   counts.Active,
		ResolvedIncidents: counts.Resolved,
		RecentIncidents:   recent,
	}, nil
}

// User returns the actor's own activity counts and account age
func (s *StatsService) User(ctx context.Context, actor models.Actor) (models.UserStats, error) {
	p, err := s.store.GetProfile(ctx, actor.ID)
	if err != nil {
		return models.UserStats{}, err
	}
	activity, err := s.store.CountUserActivity(ctx, actor.ID)
	if err != nil {
		return models.UserStats{}, err
	}
	return models.UserStats{
		IncidentsReported: activity.IncidentsReported,
		CommentsPosted:    activity.CommentsPosted,
		MemberSince:       p.CreatedAt,
		AccountAgeDays:    int(time.Since(p.CreatedAt) / (24 * time.Hour)),
	}, nil
}

// Admin returns the admin panel summary
func (s *StatsService) Admin(ctx context.Context, actor models.Actor) (models.AdminStats, error) {
	if !s.policy.HasPermission(actor, rbac.ActionStatsAdmin, rbac.Target{}) {
		return models.AdminStats{}, apperr.New(apperr.KindForbidden, "admin statistics are restricted to admins")
	}
	counts, err := s.store.CountIncidents(ctx, time.Now().UTC().Add(-activityWindow))
	if err != nil {
		return models.AdminStats{}, err
	}
	security, err := s.store.CountProfiles(ctx, models.ProfileFilter{
		Roles:      []models.Role{models.RoleSecurity},
		ActiveOnly: true,
	})
	if err != nil {
		return models.AdminStats{}, err
	}
	users, err := s.store.CountProfiles(ctx, models.ProfileFilter{})
	if err != nil {
		return models.AdminStats{}, err
	}
	pending, err := s.store.CountFeedback(ctx, models.FeedbackSubmitted)
	if err != nil {
		return models.AdminStats{}, err
	}

	return models.AdminStats{
		TotalIncidents:        counts.Total,
		UnassignedIncidents:   counts.Unassigned,
		ActiveSecurity:        security,
		PendingFeedback:       pending,
		TotalUsers:            users,
		ResolvedIncidents:     counts.Resolved,
		HighPriorityIncidents: counts.HighPriority,
		RecentActivity:        counts.Recent,
	}, nil
}

// Categories returns incident counts per category
func (s *StatsService) Categories(ctx context.Context, actor models.Actor) ([]models.CategoryDistribution, error) {
	if !s.policy.HasPermission(actor, rbac.ActionStatsAdmin, rbac.Target{}) {
		return nil, apperr.New(apperr.KindForbidden, "admin statistics are restricted to admins")
	}
	out, err := s.store.CategoryDistribution(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.CategoryDistribution{}
	}
	return out, nil
}

// Trends returns daily incident counts for the last days
func (s *StatsService) Trends(ctx context.Context, actor models.Actor, days int) ([]models.AnalyticsTrend, error) {
	if !s.policy.HasPermission(actor, rbac.ActionStatsAdmin, rbac.Target{}) {
		return nil, apperr.New(apperr.KindForbidden, "admin statistics are restricted to admins")
	}
	days = clampLimit(days, defaultTrendDays, maxTrendDays)
	since := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -days+1)
	out, err := s.store.DailyTrends(ctx, since)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.AnalyticsTrend{}
	}
	return out, nil
}
