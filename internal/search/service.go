package search

import (
	"context"
	"log"

	"taskhub/api/internal/effects"
)

const (
	JobIndex  = "search.index"
	JobDelete = "search.delete"
)

// Engine is a searcher that can also maintain its own index.
type Engine interface {
	Searcher
	IndexIssues(records []IssueRecord) error
	DeleteIssues(ids []string) error
}

// Service is the facade that tries the engine first and falls back to PG FTS.
type Service struct {
	engine   Engine
	fallback Searcher
	loader   *PgFTS
}

// NewService creates a search service. engine may be nil when Meilisearch is
// not configured.
func NewService(engine Engine, pgfts *PgFTS) *Service {
	s := &Service{engine: engine}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

func (s *Service) Search(q Query) Response {
	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexIssues pushes records to the engine. Without a healthy engine there
// is nothing to keep in sync; PG FTS reads the table directly.
func (s *Service) IndexIssues(records []IssueRecord) error {
	if s.engine == nil || !s.engine.Healthy() {
		return nil
	}
	return s.engine.IndexIssues(records)
}

func (s *Service) DeleteIssues(ids []string) error {
	if s.engine == nil || !s.engine.Healthy() {
		return nil
	}
	return s.engine.DeleteIssues(ids)
}

// ReindexAllFromPG reloads every issue from PostgreSQL into the engine.
func (s *Service) ReindexAllFromPG(ctx context.Context) (int, error) {
	if s.engine == nil || !s.engine.Healthy() || s.loader == nil {
		return 0, nil
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.engine.IndexIssues(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Register installs the index maintenance job handlers.
func Register(registry *effects.Registry, svc *Service) {
	registry.Register(JobIndex, func(_ context.Context, job effects.Job) error {
		records, err := effects.Decode[[]IssueRecord](job)
		if err != nil {
			return err
		}
		return svc.IndexIssues(records)
	})
	registry.Register(JobDelete, func(_ context.Context, job effects.Job) error {
		ids, err := effects.Decode[[]string](job)
		if err != nil {
			return err
		}
		return svc.DeleteIssues(ids)
	})
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
