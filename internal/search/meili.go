package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	issueIndex        = "taskhub_issues"
	defaultLimit      = 20
	healthCheckPeriod = 10 * time.Second
)

var errEngineDown = errors.New("meilisearch unhealthy")

var (
	issueFilterable = []interface{}{"projectId", "workspaceId", "status", "priority"}
	issueSearchable = []string{"key", "title", "description"}
	issueHighlight  = []string{"title", "description"}
)

// Meili keeps the issue index in Meilisearch. It is an Engine; callers that
// see Healthy() == false should read from the fallback instead.
type Meili struct {
	client  meili.ServiceManager
	url     string
	healthy atomic.Bool
	stop    chan struct{}
	once    sync.Once
}

// NewMeili connects to Meilisearch and starts a health check that flips Healthy and
// re-applies index settings whenever the server comes back.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		url:    url,
		stop:   make(chan struct{}),
	}
	m.checkHealth()
	go m.monitor()
	return m
}

// checkHealth records the current health and re-applies settings on recovery.
func (m *Meili) checkHealth() {
	_, err := m.client.Health()
	up := err == nil
	was := m.healthy.Swap(up)
	switch {
	case up && !was:
		log.Printf("search: meilisearch reachable at %s, applying index settings", m.url)
		m.applySettings()
	case !up && was:
		log.Printf("search: meilisearch lost at %s: %v", m.url, err)
	case !up:
		log.Printf("search: meilisearch unavailable at %s: %v", m.url, err)
	}
}

func (m *Meili) monitor() {
	ticker := time.NewTicker(healthCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

// applySettings is idempotent; an existing index only logs.
func (m *Meili) applySettings() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: issueIndex, PrimaryKey: "id"}); err != nil {
		log.Printf("search: create index %s: %v", issueIndex, err)
	}
	index := m.client.Index(issueIndex)
	filterable := issueFilterable
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: filterable attributes: %v", err)
	}
	searchable := issueSearchable
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: searchable attributes: %v", err)
	}
}

// Close stops the health monitor. It is safe to call more than once.
func (m *Meili) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, errEngineDown
	}
	req := &meili.SearchRequest{
		Limit:                 int64(q.Limit),
		Offset:                int64(q.Offset),
		AttributesToHighlight: issueHighlight,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if filter := issueFilter(q); len(filter) > 0 {
		req.Filter = filter
	}

	resp, err := m.client.Index(issueIndex).Search(q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		result, err := decodeIssueHit(hit)
		if err != nil {
			log.Printf("search: skip undecodable hit: %v", err)
			continue
		}
		results = append(results, result)
	}
	return results, int(resp.EstimatedTotalHits), nil
}

// issueFilter ANDs the query's scope into Meilisearch filter expressions.
func issueFilter(q Query) []string {
	var filter []string
	if q.ProjectID != "" {
		filter = append(filter, fmt.Sprintf("projectId = %q", q.ProjectID))
	}
	if q.Status != "" {
		filter = append(filter, fmt.Sprintf("status = %q", q.Status))
	}
	return filter
}

type issueHit struct {
	IssueRecord
	Formatted struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"_formatted"`
}

// decodeIssueHit prefers the highlighted fields and falls back to the raw
// document when highlighting produced nothing.
func decodeIssueHit(hit meili.Hit) (Result, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Result{}, fmt.Errorf("encode hit: %w", err)
	}
	var h issueHit
	if err := json.Unmarshal(raw, &h); err != nil {
		return Result{}, fmt.Errorf("decode hit: %w", err)
	}
	return Result{
		ID:        h.ID,
		Key:       h.Key,
		Status:    h.Status,
		ProjectID: h.ProjectID,
		Title:     orRaw(h.Formatted.Title, h.Title),
		Snippet:   orRaw(h.Formatted.Description, h.Description),
	}, nil
}

func orRaw(highlighted, raw string) string {
	if strings.TrimSpace(highlighted) != "" {
		return strings.TrimSpace(highlighted)
	}
	return raw
}

func (m *Meili) IndexIssues(records []IssueRecord) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := m.client.Index(issueIndex).AddDocuments(records, nil); err != nil {
		return fmt.Errorf("index %d issues: %w", len(records), err)
	}
	return nil
}

// DeleteIssues removes documents one by one and stops at the first failure;
// the job is retried as a whole and deleting a missing document is a no-op.
func (m *Meili) DeleteIssues(ids []string) error {
	index := m.client.Index(issueIndex)
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("delete issue %s from index: %w", id, err)
		}
	}
	return nil
}
