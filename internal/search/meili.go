package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxIncidents = "incidents"

// Meili implements Engine via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *zap.SugaredLogger
}

// NewMeili creates a Meilisearch client and configures the incident index.
// An unreachable server is not an error: the health loop keeps probing and
// the Service falls back to the database meanwhile.
func NewMeili(url, apiKey string, logger *zap.SugaredLogger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := client.Health(); err != nil {
		logger.Warnw("Meilisearch unavailable, using database search", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxIncidents,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debugw("Create search index (may already exist)", "index", idxIncidents, "error", err)
	}

	index := m.client.Index(idxIncidents)
	filterable := []interface{}{"status", "category", "priority"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warnw("Update filterable attributes failed", "index", idxIncidents, "error", err)
	}
	searchable := []string{"title", "description", "category", "address"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warnw("Update searchable attributes failed", "index", idxIncidents, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("Meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search returns matching incident ids in relevance order.
func (m *Meili) Search(q Query) ([]uuid.UUID, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	req := &meili.SearchRequest{
		Limit:                int64(q.limit()),
		Offset:               int64(q.Offset),
		AttributesToRetrieve: []string{"id"},
	}
	if filters := q.filters(); len(filters) > 0 {
		req.Filter = filters
	}

	resp, err := m.client.Index(idxIncidents).Search(q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		id, err := uuid.Parse(decodeString(hit, "id"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, int(resp.EstimatedTotalHits), nil
}

func (q Query) filters() []string {
	var filters []string
	if q.Status != "" {
		filters = append(filters, fmt.Sprintf("status = %q", q.Status))
	}
	if q.Category != "" {
		filters = append(filters, fmt.Sprintf("category = %q", q.Category))
	}
	if q.Priority != "" {
		filters = append(filters, fmt.Sprintf("priority = %q", q.Priority))
	}
	return filters
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

// Index adds or updates incidents in the search index.
func (m *Meili) Index(records ...IncidentRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxIncidents).AddDocuments(records, nil)
	return err
}
