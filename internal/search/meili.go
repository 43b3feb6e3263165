package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxVertices = "graphdesk_vertices"

// Meili implements Index via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     zerolog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the vertex index.
// An unreachable server is retried by the health loop.
func NewMeili(url, apiKey string, log zerolog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		log:    log.With().Str("component", "search").Logger(),
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		m.log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
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
		Uid:        idxVertices,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug().Err(err).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxVertices)
	filterable := []interface{}{"conceptType"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"title", "text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn().Err(err).Msg("update searchable attributes")
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
				m.log.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Ping reports an unhealthy server as an error for the readiness check.
func (m *Meili) Ping(context.Context) error {
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	return nil
}

func (m *Meili) IndexVertex(_ context.Context, r Record) error {
	_, err := m.client.Index(idxVertices).AddDocuments([]Record{r}, nil)
	return err
}

func (m *Meili) DeleteVertex(_ context.Context, vertexID string) error {
	_, err := m.client.Index(idxVertices).DeleteDocument(documentID(vertexID), nil)
	return err
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		IndexUID:              idxVertices,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.ConceptType != "" {
		sr.Filter = []string{fmt.Sprintf("conceptType = %q", q.ConceptType)}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := []Result{}
	total := 0
	for _, r := range resp.Results {
		total += int(r.EstimatedTotalHits)
		for _, hit := range r.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		VertexID:    decodeString(hit, "vertexId"),
		ConceptType: decodeString(hit, "conceptType"),
		Title:       firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:     firstText(hit),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// firstText prefers a highlighted text value over the first stored one.
func firstText(hit meili.Hit) string {
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(hit["_formatted"], &formatted); err == nil {
		var texts []string
		if err := json.Unmarshal(formatted["text"], &texts); err == nil {
			for _, t := range texts {
				if strings.Contains(t, "<mark>") {
					return t
				}
			}
		}
	}
	var texts []string
	if err := json.Unmarshal(hit["text"], &texts); err == nil && len(texts) > 0 {
		return texts[0]
	}
	return ""
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
