// Package memory is an in-process implementation of ports.Store, used for
// tests and ephemeral deployments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
)

type citation struct {
	runID string
	url   string
}

// Store keeps every entity in maps guarded by one RWMutex. Values are
// cloned on the way in and out so callers never alias store state.
type Store struct {
	mu        sync.RWMutex
	runs      map[string]*domain.PipelineRun
	sources   map[string]*domain.ResearchSource
	citations map[string][]citation
	knowledge map[string]*domain.KnowledgeEntry
	clients   map[string]*domain.ClientProfile
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		runs:      make(map[string]*domain.PipelineRun),
		sources:   make(map[string]*domain.ResearchSource),
		citations: make(map[string][]citation),
		knowledge: make(map[string]*domain.KnowledgeEntry),
		clients:   make(map[string]*domain.ClientProfile),
	}
}

func (s *Store) CreateRun(ctx context.Context, run *domain.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return run.Clone(), nil
}

func (s *Store) UpdateRun(ctx context.Context, run *domain.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrNotFound)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *Store) ListRuns(ctx context.Context, opts ports.RunListOptions) ([]*domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PipelineRun
	for _, run := range s.runs {
		if opts.ClientID != "" && run.ClientID != opts.ClientID {
			continue
		}
		if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, run.Status) {
			continue
		}
		result = append(result, run.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) GetSource(ctx context.Context, url string) (*domain.ResearchSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, exists := s.sources[url]
	if !exists {
		return nil, fmt.Errorf("source %s: %w", url, domain.ErrNotFound)
	}
	return src.Clone(), nil
}

func (s *Store) SaveSource(ctx context.Context, src *domain.ResearchSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sources[src.URL] = src.Clone()
	return nil
}

func (s *Store) ReplaceCitations(ctx context.Context, insightID, runID string, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cites := make([]citation, 0, len(urls))
	for _, u := range urls {
		cites = append(cites, citation{runID: runID, url: u})
	}
	if len(cites) == 0 {
		delete(s.citations, insightID)
		return nil
	}
	s.citations[insightID] = cites
	return nil
}

func (s *Store) CitationURLs(ctx context.Context, insightID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var urls []string
	for _, c := range s.citations[insightID] {
		if !slices.Contains(urls, c.url) {
			urls = append(urls, c.url)
		}
	}
	return urls, nil
}

func (s *Store) CitingRuns(ctx context.Context, url string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make(map[string]struct{})
	for _, cites := range s.citations {
		for _, c := range cites {
			if c.url == url {
				runs[c.runID] = struct{}{}
			}
		}
	}
	return len(runs), nil
}

func (s *Store) SaveKnowledge(ctx context.Context, entry *domain.KnowledgeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	s.knowledge[entry.ID] = &e
	return nil
}

func (s *Store) GetKnowledge(ctx context.Context, id string) (*domain.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.knowledge[id]
	if !exists {
		return nil, fmt.Errorf("knowledge entry %s: %w", id, domain.ErrNotFound)
	}
	c := *e
	return &c, nil
}

func (s *Store) ListKnowledge(ctx context.Context, opts ports.KnowledgeListOptions) ([]*domain.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.KnowledgeEntry
	for _, e := range s.knowledge {
		if !knowledgeMatches(e, opts) {
			continue
		}
		c := *e
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].SuccessScore == result[j].SuccessScore {
			return result[i].ID < result[j].ID
		}
		return result[i].SuccessScore > result[j].SuccessScore
	})

	return paginate(result, 0, opts.Limit), nil
}

func knowledgeMatches(e *domain.KnowledgeEntry, opts ports.KnowledgeListOptions) bool {
	if opts.SourceRunID != "" && e.SourceRunID != opts.SourceRunID {
		return false
	}
	if len(opts.Types) > 0 && !slices.Contains(opts.Types, e.Type) {
		return false
	}
	if opts.ClientID == "" {
		return true
	}
	if e.ClientID == opts.ClientID {
		return true
	}
	return opts.IncludeGlobal && e.ClientID == ""
}

func (s *Store) GetProfile(ctx context.Context, clientID string) (*domain.ClientProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.clients[clientID]
	if !exists {
		return nil, fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *Store) SaveProfile(ctx context.Context, profile *domain.ClientProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.clients[profile.ID]; ok {
		profile.CreatedAt = existing.CreatedAt
	} else if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	s.clients[profile.ID] = profile.Clone()
	return nil
}

func (s *Store) Close() error {
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ ports.Store = (*Store)(nil)
