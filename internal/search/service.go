// Package search finds incidents by free text. Meilisearch serves queries
// while it is healthy; otherwise the store's ILIKE filter does.
package search

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/store"
)

const (
	ModeMeili    = "meilisearch"
	ModeDatabase = "database"
)

// Query describes a search request.
type Query struct {
	Text     string
	Status   models.IncidentStatus
	Category string
	Priority models.Priority
	Limit    int
	Offset   int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

// IncidentRecord is the data we index for an incident.
type IncidentRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
}

// RecordOf builds the index document for an incident
func RecordOf(inc models.Incident) IncidentRecord {
	return IncidentRecord{
		ID:          inc.ID.String(),
		Title:       inc.Title,
		Description: inc.Description,
		Category:    inc.Category,
		Address:     inc.Address,
		Status:      string(inc.Status),
		Priority:    string(inc.Priority),
	}
}

// Engine is a full-text index over incidents.
type Engine interface {
	Search(q Query) ([]uuid.UUID, int, error)
	Index(records ...IncidentRecord) error
	Healthy() bool
}

// Result is the envelope returned by the search endpoint.
type Result struct {
	Incidents []models.Incident `json:"incidents"`
	Total     int               `json:"total"`
	Query     string            `json:"query"`
	Mode      string            `json:"mode"`
}

// Service is the facade that tries the engine first and falls back to the store.
type Service struct {
	engine Engine
	store  store.Store
	logger *zap.SugaredLogger
}

// NewService creates a search service. engine may be nil.
func NewService(engine Engine, st store.Store, logger *zap.SugaredLogger) *Service {
	return &Service{engine: engine, store: st, logger: logger}
}

// Mode reports which backend currently answers queries.
func (s *Service) Mode() string {
	if s.engine != nil && s.engine.Healthy() {
		return ModeMeili
	}
	return ModeDatabase
}

// Search runs q and loads the matching incidents.
func (s *Service) Search(ctx context.Context, q Query) (Result, error) {
	if s.engine != nil && s.engine.Healthy() {
		ids, total, err := s.engine.Search(q)
		if err == nil {
			incidents, err := s.load(ctx, ids)
			if err != nil {
				return Result{}, err
			}
			return Result{Incidents: incidents, Total: total, Query: q.Text, Mode: ModeMeili}, nil
		}
		s.logger.Warnw("Search engine error, falling back to database", "error", err)
	}

	incidents, err := s.store.ListIncidents(ctx, models.IncidentFilter{
		Search:   q.Text,
		Status:   q.Status,
		Category: q.Category,
		Priority: q.Priority,
		Limit:    q.limit(),
		Offset:   q.Offset,
	})
	if err != nil {
		return Result{}, err
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}
	return Result{Incidents: incidents, Total: len(incidents), Query: q.Text, Mode: ModeDatabase}, nil
}

// load fetches incidents by id, keeping the engine's ranking order
func (s *Service) load(ctx context.Context, ids []uuid.UUID) ([]models.Incident, error) {
	if len(ids) == 0 {
		return []models.Incident{}, nil
	}
	rows, err := s.store.ListIncidents(ctx, models.IncidentFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Incident, len(rows))
	for _, inc := range rows {
		byID[inc.ID] = inc
	}
	out := make([]models.Incident, 0, len(ids))
	for _, id := range ids {
		if inc, ok := byID[id]; ok {
			out = append(out, inc)
		}
	}
	return out, nil
}

// IndexIncident pushes an incident to the engine (fire-and-forget).
func (s *Service) IndexIncident(inc models.Incident) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	rec := RecordOf(inc)
	go func() {
		if err := s.engine.Index(rec); err != nil {
			s.logger.Warnw("Index incident failed", "incident_id", rec.ID, "error", err)
		}
	}()
}

// Reindex loads every incident from the store and pushes it to the engine.
func (s *Service) Reindex(ctx context.Context) error {
	if s.engine == nil || !s.engine.Healthy() {
		return nil
	}
	incidents, err := s.store.ListIncidents(ctx, models.IncidentFilter{})
	if err != nil {
		return err
	}
	records := make([]IncidentRecord, len(incidents))
	for i, inc := range incidents {
		records[i] = RecordOf(inc)
	}
	if err := s.engine.Index(records...); err != nil {
		return err
	}
	s.logger.Infow("Search index rebuilt", "incidents", len(records))
	return nil
}
