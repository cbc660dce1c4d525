// Package feedback turns finished runs and post-publication analytics into
// knowledge entries. It is the only writer of knowledge entries: success
// scores and usage counters change nowhere else.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
)

// Config tunes how analytics move success scores.
type Config struct {
	// TargetEngagementRate is the rate at which a score stays unchanged.
	TargetEngagementRate float64 `koanf:"target_engagement_rate"`
	LearningRate         float64 `koanf:"learning_rate"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{TargetEngagementRate: 0.02, LearningRate: 0.1}
}

// Service is the knowledge feedback loop.
type Service struct {
	cfg    Config
	store  ports.KnowledgeStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu sync.Mutex
}

// New creates a feedback service over store.
func New(cfg Config, store ports.KnowledgeStore, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.TargetEngagementRate <= 0 {
		cfg.TargetEngagementRate = def.TargetEngagementRate
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

type angleOutput struct {
	Angles []struct {
		Hook  string `json:"hook"`
		Angle string `json:"angle"`
	} `json:"angles"`
}

type synthesisOutput struct {
	Objections []struct {
		Objection string `json:"objection"`
		Rebuttal  string `json:"rebuttal"`
	} `json:"objections"`
}

type voiceOutput struct {
	VoiceNotes []string `json:"voice_notes"`
}

// OnRunCompleted drafts knowledge entries from a completed run: winning
// hooks from the angle matrix, rebuttals from synthesis and voice notes
// from voice transfer. Entries start with zero usage and a success score
// taken from the source stage's quality score. Calling it twice for the
// same run returns the entries of the first call.
func (s *Service) OnRunCompleted(ctx context.Context, run *domain.PipelineRun) ([]*domain.KnowledgeEntry, error) {
	if run.Status != domain.RunStatusCompleted {
		return nil, fmt.Errorf("run %s is %s, not completed: %w", run.ID, run.Status, domain.ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.ListKnowledge(ctx, ports.KnowledgeListOptions{SourceRunID: run.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge for run %s: %w", run.ID, err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	drafts, err := draftEntries(run)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, e := range drafts {
		e.ID = s.newID()
		e.ClientID = run.ClientID
		e.SourceRunID = run.ID
		e.CreatedAt = now
		e.UpdatedAt = now
		if err := s.store.SaveKnowledge(ctx, e); err != nil {
			return nil, fmt.Errorf("failed to save knowledge entry: %w", err)
		}
	}

	s.logger.Debug("drafted knowledge entries",
		slog.String("run_id", run.ID),
		slog.Int("count", len(drafts)))
	return drafts, nil
}

func draftEntries(run *domain.PipelineRun) ([]*domain.KnowledgeEntry, error) {
	var out []*domain.KnowledgeEntry

	if res := run.Results.Get(domain.StageAngleMatrix); res.Passed() {
		var o angleOutput
		if err := json.Unmarshal(res.Payload, &o); err != nil {
			return nil, fmt.Errorf("failed to decode angle matrix: %w", err)
		}
		for _, a := range o.Angles {
			if strings.TrimSpace(a.Hook) == "" {
				continue
			}
			out = append(out, draft(domain.KnowledgeHook, firstNonEmpty(a.Angle, a.Hook), a.Hook, res))
		}
	}

	if res := run.Results.Get(domain.StageSynthesis); res.Passed() {
		var o synthesisOutput
		if err := json.Unmarshal(res.Payload, &o); err != nil {
			return nil, fmt.Errorf("failed to decode synthesis: %w", err)
		}
		for _, ob := range o.Objections {
			if strings.TrimSpace(ob.Rebuttal) == "" {
				continue
			}
			out = append(out, draft(domain.KnowledgeRebuttal, ob.Objection, ob.Rebuttal, res))
		}
	}

	if res := run.Results.Get(domain.StageVoiceTransfer); res.Passed() {
		var o voiceOutput
		if err := json.Unmarshal(res.Payload, &o); err != nil {
			return nil, fmt.Errorf("failed to decode voice transfer: %w", err)
		}
		for _, note := range o.VoiceNotes {
			if strings.TrimSpace(note) == "" {
				continue
			}
			out = append(out, draft(domain.KnowledgeVoice, title(note), note, res))
		}
	}
	return out, nil
}

func draft(t domain.KnowledgeType, titleText, body string, res *domain.StageResult) *domain.KnowledgeEntry {
	return &domain.KnowledgeEntry{
		Type:         t,
		Title:        title(titleText),
		Body:         body,
		SuccessScore: clamp01(res.QualityScore / 10),
		SourceStage:  res.Stage,
	}
}

// OnPerformanceUpdate moves the success score of every entry traced to the
// content. Engagement at the target rate leaves a score unchanged; double
// the target or more raises it by the learning rate, zero engagement lowers
// it by the same. A report without impressions carries no signal and leaves
// scores as they are.
func (s *Service) OnPerformanceUpdate(ctx context.Context, contentID string, metrics domain.PerformanceMetrics) ([]*domain.KnowledgeEntry, error) {
	if strings.TrimSpace(contentID) == "" {
		return nil, domain.ErrInvalidRequest("content_id is required")
	}
	if metrics.Impressions < 0 || metrics.Engagements < 0 || metrics.Clicks < 0 || metrics.Conversions < 0 {
		return nil, domain.ErrInvalidRequest("metrics must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.store.ListKnowledge(ctx, ports.KnowledgeListOptions{SourceRunID: contentID})
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge for %s: %w", contentID, err)
	}
	if metrics.Impressions == 0 {
		s.logger.Info("skipped performance update without impressions",
			slog.String("content_id", contentID),
			slog.Int("entries", len(entries)))
		return entries, nil
	}

	ratio := metrics.EngagementRate() / s.cfg.TargetEngagementRate
	adjust := s.cfg.LearningRate * (math.Min(math.Max(ratio, 0), 2) - 1)
	now := s.now()
	for _, e := range entries {
		e.SuccessScore = clamp01(e.SuccessScore + adjust)
		e.UpdatedAt = now
		if err := s.store.SaveKnowledge(ctx, e); err != nil {
			return nil, fmt.Errorf("failed to update knowledge entry %s: %w", e.ID, err)
		}
	}

	s.logger.Info("applied performance update",
		slog.String("content_id", contentID),
		slog.Float64("engagement_rate", metrics.EngagementRate()),
		slog.Float64("adjustment", adjust),
		slog.Int("entries", len(entries)))
	return entries, nil
}

// RecordUsage increments the usage counter of each retrieved entry.
// Unknown ids are skipped.
func (s *Service) RecordUsage(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range ids {
		e, err := s.store.GetKnowledge(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return fmt.Errorf("failed to load knowledge entry %s: %w", id, err)
		}
		e.UsageCount++
		e.UpdatedAt = now
		if err := s.store.SaveKnowledge(ctx, e); err != nil {
			return fmt.Errorf("failed to save knowledge entry %s: %w", id, err)
		}
	}
	return nil
}

// List returns knowledge entries, best first.
func (s *Service) List(ctx context.Context, opts ports.KnowledgeListOptions) ([]*domain.KnowledgeEntry, error) {
	return s.store.ListKnowledge(ctx, opts)
}

const maxTitle = 80

func title(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxTitle {
		return string(r[:maxTitle-3]) + "..."
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	return math.Round(math.Min(math.Max(v, 0), 1)*10000) / 10000
}
