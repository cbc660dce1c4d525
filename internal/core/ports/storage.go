// Package ports defines the core interfaces between the pipeline engine and
// its collaborators.
package ports

import (
	"context"

	"github.com/polything/phoenix-template/internal/core/domain"
)

// RunStore persists pipeline runs. Runs are never deleted.
type RunStore interface {
	// CreateRun inserts a new run.
	CreateRun(ctx context.Context, run *domain.PipelineRun) error

	// GetRun retrieves a run by ID. Returns domain.ErrNotFound if absent.
	GetRun(ctx context.Context, id string) (*domain.PipelineRun, error)

	// UpdateRun overwrites the persisted state of a run.
	UpdateRun(ctx context.Context, run *domain.PipelineRun) error

	// ListRuns lists runs newest first.
	ListRuns(ctx context.Context, opts RunListOptions) ([]*domain.PipelineRun, error)
}

// RunListOptions filters ListRuns.
type RunListOptions struct {
	ClientID string
	Statuses []domain.RunStatus
	Limit    int
	Offset   int
}

// SourceStore persists research sources keyed by normalized URL and the
// insight citations that reference them.
type SourceStore interface {
	// GetSource returns domain.ErrNotFound if the URL was never cited.
	GetSource(ctx context.Context, url string) (*domain.ResearchSource, error)

	// SaveSource upserts a source by URL.
	SaveSource(ctx context.Context, src *domain.ResearchSource) error

	// ReplaceCitations sets the cited URLs of one insight, dropping any
	// citations recorded by an earlier attempt.
	ReplaceCitations(ctx context.Context, insightID, runID string, urls []string) error

	// CitationURLs returns the distinct URLs cited by an insight.
	CitationURLs(ctx context.Context, insightID string) ([]string, error)

	// CitingRuns returns the number of distinct runs citing a URL.
	CitingRuns(ctx context.Context, url string) (int, error)
}

// KnowledgeStore persists learned knowledge entries.
type KnowledgeStore interface {
	SaveKnowledge(ctx context.Context, entry *domain.KnowledgeEntry) error
	GetKnowledge(ctx context.Context, id string) (*domain.KnowledgeEntry, error)
	ListKnowledge(ctx context.Context, opts KnowledgeListOptions) ([]*domain.KnowledgeEntry, error)
}

// KnowledgeListOptions filters ListKnowledge. Results are ordered by
// success score, highest first.
type KnowledgeListOptions struct {
	ClientID      string
	IncludeGlobal bool
	SourceRunID   string
	Types         []domain.KnowledgeType
	Limit         int
}

// ClientProvider resolves client profiles. Returns domain.ErrNotFound for
// unknown clients.
type ClientProvider interface {
	GetProfile(ctx context.Context, clientID string) (*domain.ClientProfile, error)
}

// ClientStore is the intake-side writer of client profiles.
type ClientStore interface {
	ClientProvider
	SaveProfile(ctx context.Context, profile *domain.ClientProfile) error
}

// Store is the union implemented by the bundled storage backends.
type Store interface {
	RunStore
	SourceStore
	KnowledgeStore
	ClientStore
	Close() error
}
