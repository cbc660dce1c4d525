package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
)

const (
	maxInsightsPerSource = 20
	fetchTimeout         = 5 * time.Second
)

// Insight is one research finding with the URLs it cites.
type Insight struct {
	RunID string
	ID    string
	Claim string
	URLs  []string
}

// Cache is the only writer of research sources and citations. Writes are
// serialized so concurrent runs never lose a corroboration update; reads go
// straight to the store.
type Cache struct {
	store      ports.SourceStore
	reputation *Reputation
	fetcher    MetadataFetcher
	cfg        ScoreConfig
	now        func() time.Time
	logger     *slog.Logger

	mu sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithReputation sets the domain reputation table.
func WithReputation(r *Reputation) Option {
	return func(c *Cache) { c.reputation = r }
}

// WithFetcher enables metadata lookup for newly seen sources.
func WithFetcher(f MetadataFetcher) Option {
	return func(c *Cache) { c.fetcher = f }
}

// WithScoreConfig overrides the credibility formula parameters.
func WithScoreConfig(cfg ScoreConfig) Option {
	return func(c *Cache) { c.cfg = cfg }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// NewCache creates a research cache over store.
func NewCache(store ports.SourceStore, opts ...Option) *Cache {
	c := &Cache{
		store:      store,
		reputation: NewReputation(),
		cfg:        DefaultScoreConfig(),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a source by URL without touching its counters.
func (c *Cache) Get(ctx context.Context, rawURL string) (*domain.ResearchSource, error) {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, domain.ErrInvalidRequest(err.Error())
	}
	return c.store.GetSource(ctx, key)
}

// Explain returns the factor breakdown behind a source's current score.
func (c *Cache) Explain(src *domain.ResearchSource) Breakdown {
	return Score(factorsOf(src), c.cfg, c.now())
}

// LookupOrCreate returns the source for rawURL, creating it on first
// sight. A hit counts as a reference and rescoring happens either way.
func (c *Cache) LookupOrCreate(ctx context.Context, rawURL string) (*domain.ResearchSource, error) {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	md := c.prefetch(ctx, []string{key})

	c.mu.Lock()
	defer c.mu.Unlock()

	src, err := c.reference(ctx, key, md[key])
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveSource(ctx, src); err != nil {
		return nil, fmt.Errorf("failed to save source: %w", err)
	}
	return src.Clone(), nil
}

// RecordInsight records the URLs cited by one insight of one run. The set
// replaces whatever an earlier attempt of the same run recorded for that
// insight, and every affected source is rescored with its new
// corroboration count.
func (c *Cache) RecordInsight(ctx context.Context, in Insight) ([]*domain.ResearchSource, error) {
	if in.RunID == "" || in.ID == "" {
		return nil, fmt.Errorf("insight requires run id and insight id")
	}
	urls := make([]string, 0, len(in.URLs))
	for _, raw := range in.URLs {
		key, err := NormalizeURL(raw)
		if err != nil {
			c.logger.Warn("skipping invalid source url",
				slog.String("run_id", in.RunID),
				slog.String("insight_id", in.ID),
				slog.String("error", err.Error()))
			continue
		}
		if !slices.Contains(urls, key) {
			urls = append(urls, key)
		}
	}
	md := c.prefetch(ctx, urls)
	insightKey := InsightKey(in.RunID, in.ID)

	c.mu.Lock()
	defer c.mu.Unlock()

	previous, err := c.store.CitationURLs(ctx, insightKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load citations: %w", err)
	}

	touched := make(map[string]*domain.ResearchSource, len(urls)+len(previous))
	for _, key := range urls {
		src, err := c.reference(ctx, key, md[key])
		if err != nil {
			return nil, err
		}
		if in.Claim != "" && !slices.Contains(src.Insights, in.Claim) && len(src.Insights) < maxInsightsPerSource {
			src.Insights = append(src.Insights, in.Claim)
		}
		touched[key] = src
	}

	if err := c.store.ReplaceCitations(ctx, insightKey, in.RunID, urls); err != nil {
		return nil, fmt.Errorf("failed to replace citations: %w", err)
	}

	for _, key := range previous {
		if _, ok := touched[key]; ok {
			continue
		}
		src, err := c.store.GetSource(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load source %s: %w", key, err)
		}
		touched[key] = src
	}

	now := c.now()
	for key, src := range touched {
		runs, err := c.store.CitingRuns(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to count citing runs: %w", err)
		}
		src.CorroborationCount = max(runs-1, 0)
		c.rescore(src, now)
		if err := c.store.SaveSource(ctx, src); err != nil {
			return nil, fmt.Errorf("failed to save source: %w", err)
		}
	}

	out := make([]*domain.ResearchSource, 0, len(urls))
	for _, key := range urls {
		out = append(out, touched[key].Clone())
	}
	return out, nil
}

// CountDistinctSourcesFor returns how many distinct sources an insight
// cites. insightKey comes from InsightKey.
func (c *Cache) CountDistinctSourcesFor(ctx context.Context, insightKey string) (int, error) {
	urls, err := c.store.CitationURLs(ctx, insightKey)
	if err != nil {
		return 0, err
	}
	return len(urls), nil
}

// reference loads or creates the source for key and counts one reference.
// Callers hold c.mu.
func (c *Cache) reference(ctx context.Context, key string, md *PageMetadata) (*domain.ResearchSource, error) {
	now := c.now()
	src, err := c.store.GetSource(ctx, key)
	switch {
	case err == nil:
		src.TimesReferenced++
		src.LastReferencedAt = now
	case errors.Is(err, domain.ErrNotFound):
		rep := c.reputation.Lookup(Domain(key))
		src = &domain.ResearchSource{
			URL:              key,
			Domain:           Domain(key),
			Tier:             rep.Tier,
			Authoritative:    rep.Authoritative,
			TimesReferenced:  1,
			FirstSeenAt:      now,
			LastReferencedAt: now,
		}
		if md != nil {
			src.Title = md.Title
			src.Summary = md.Description
			src.PublishedAt = md.PublishedAt
		}
	default:
		return nil, fmt.Errorf("failed to look up source: %w", err)
	}
	c.rescore(src, now)
	return src, nil
}

func (c *Cache) rescore(src *domain.ResearchSource, now time.Time) {
	src.CredibilityScore = Score(factorsOf(src), c.cfg, now).Total
}

func factorsOf(src *domain.ResearchSource) Factors {
	return Factors{
		Tier:           src.Tier,
		PublishedAt:    src.PublishedAt,
		Authoritative:  src.Authoritative,
		Corroborations: src.CorroborationCount,
	}
}

// prefetch loads metadata for keys not yet in the store, outside the write
// lock. Failures only cost the metadata.
func (c *Cache) prefetch(ctx context.Context, keys []string) map[string]*PageMetadata {
	if c.fetcher == nil {
		return nil
	}
	out := make(map[string]*PageMetadata)
	for _, key := range keys {
		if _, err := c.store.GetSource(ctx, key); !errors.Is(err, domain.ErrNotFound) {
			continue
		}
		fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		md, err := c.fetcher.Fetch(fctx, key)
		cancel()
		if err != nil {
			c.logger.Debug("source metadata unavailable",
				slog.String("url", key),
				slog.String("error", err.Error()))
			continue
		}
		out[key] = md
	}
	return out
}
