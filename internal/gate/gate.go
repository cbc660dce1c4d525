// Package gate decides whether a stage result may let a run proceed.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/polything/phoenix-template/internal/contract"
	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/research"
)

// Config holds gate thresholds.
type Config struct {
	// ReviewThreshold is the minimum score at which review_on_low_score
	// stages auto-pass.
	ReviewThreshold      float64 `koanf:"review_threshold"`
	MinSourcesPerInsight int     `koanf:"min_sources_per_insight"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{ReviewThreshold: 7.0, MinSourcesPerInsight: 3}
}

// SourceCounter answers the distinct-source query for research insights.
type SourceCounter interface {
	CountDistinctSourcesFor(ctx context.Context, insightKey string) (int, error)
}

// Input is everything the gate looks at for one stage attempt.
type Input struct {
	Contract contract.StageContract
	RunID    string
	Payload  json.RawMessage
	// SelfScore is the capability's own quality score, if it emitted one.
	SelfScore *float64
	Profile   *domain.ClientProfile
}

// Decision is the gate's verdict with its reasoning.
type Decision struct {
	Verdict domain.Verdict
	Score   float64
	// Findings are observations surfaced to reviewers.
	Findings []string
	// Violations are hard contract failures; any violation rejects.
	Violations []string
}

// Gate evaluates stage results. It only reads shared state.
type Gate struct {
	cfg     Config
	sources SourceCounter
	logger  *slog.Logger
}

// New creates a gate. sources may be nil, in which case research insights
// are checked against the URLs in the payload itself.
func New(cfg Config, sources SourceCounter, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinSourcesPerInsight <= 0 {
		cfg.MinSourcesPerInsight = DefaultConfig().MinSourcesPerInsight
	}
	return &Gate{cfg: cfg, sources: sources, logger: logger}
}

// Evaluate scores a stage result and applies the contract's gate policy.
func (g *Gate) Evaluate(ctx context.Context, in Input) (Decision, error) {
	var d Decision

	validation := in.Contract.Output.Validate(in.Payload)
	d.Violations = append(d.Violations, validation.Problems...)

	if in.SelfScore != nil {
		d.Score = round1(clamp(*in.SelfScore))
	} else {
		d.Score = HeuristicScore(payloadText(in.Payload), in.Profile)
	}
	if validation.Completeness < 1 {
		d.Score = round1(clamp(d.Score - 1))
		d.Findings = append(d.Findings, fmt.Sprintf("output is %.0f%% complete", validation.Completeness*100))
	}

	switch in.Contract.Name {
	case domain.StageResearch:
		v, err := g.checkResearch(ctx, in)
		if err != nil {
			return Decision{}, err
		}
		d.Violations = append(d.Violations, v...)
	case domain.StageFactCheck:
		d.Violations = append(d.Violations, checkFactCheck(in.Payload)...)
	}
	if in.Profile != nil {
		d.Findings = append(d.Findings, bannedTopicFindings(payloadText(in.Payload), in.Profile.Constraints.BannedTopics)...)
	}

	d.Verdict = g.verdict(in.Contract.Gate, d)
	g.logger.Debug("gate evaluated",
		slog.String("run_id", in.RunID),
		slog.String("stage", string(in.Contract.Name)),
		slog.String("verdict", string(d.Verdict)),
		slog.Float64("score", d.Score),
		slog.Int("violations", len(d.Violations)))
	return d, nil
}

func (g *Gate) verdict(policy contract.GatePolicy, d Decision) domain.Verdict {
	if len(d.Violations) > 0 {
		return domain.VerdictRejected
	}
	switch policy {
	case contract.GateAlwaysReview:
		return domain.VerdictNeedsReview
	case contract.GateReviewOnLowScore:
		if d.Score >= g.cfg.ReviewThreshold {
			return domain.VerdictPass
		}
		return domain.VerdictNeedsReview
	default:
		return domain.VerdictPass
	}
}

func (g *Gate) checkResearch(ctx context.Context, in Input) ([]string, error) {
	var out contract.ResearchOutput
	if err := json.Unmarshal(in.Payload, &out); err != nil {
		return []string{"research output is not decodable"}, nil
	}

	var violations []string
	seen := make(map[string]bool, len(out.Insights))
	for _, insight := range out.Insights {
		// Citations are keyed by insight id, so a repeated id would let one
		// insight borrow another's sources.
		if seen[insight.ID] {
			violations = append(violations, fmt.Sprintf("insight id %q is used more than once", insight.ID))
			continue
		}
		seen[insight.ID] = true
		n, err := g.distinctSources(ctx, in.RunID, insight)
		if err != nil {
			return nil, fmt.Errorf("count sources for insight %s: %w", insight.ID, err)
		}
		if n < g.cfg.MinSourcesPerInsight {
			violations = append(violations, fmt.Sprintf(
				"insight %s cites %d distinct source(s), need at least %d", insight.ID, n, g.cfg.MinSourcesPerInsight))
		}
	}
	return violations, nil
}

func (g *Gate) distinctSources(ctx context.Context, runID string, insight contract.ResearchInsight) (int, error) {
	if g.sources != nil {
		return g.sources.CountDistinctSourcesFor(ctx, research.InsightKey(runID, insight.ID))
	}
	seen := make(map[string]struct{})
	for _, raw := range insight.Sources {
		if key, err := research.NormalizeURL(raw); err == nil {
			seen[key] = struct{}{}
		}
	}
	return len(seen), nil
}

func checkFactCheck(payload json.RawMessage) []string {
	var out contract.FactCheckOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return []string{"fact_check output is not decodable"}
	}
	var violations []string
	for i, claim := range out.Claims {
		if !hasDigit(claim.Text) {
			continue
		}
		if strings.TrimSpace(claim.Citation) == "" && !claim.Guarded {
			violations = append(violations, fmt.Sprintf("numeric claim %d has no citation and is not guarded: %q", i, claim.Text))
		}
	}
	return violations
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func bannedTopicFindings(text string, banned []string) []string {
	lower := strings.ToLower(text)
	var findings []string
	for _, topic := range banned {
		t := strings.ToLower(strings.TrimSpace(topic))
		if t != "" && strings.Contains(lower, t) {
			findings = append(findings, fmt.Sprintf("references banned topic %q", topic))
		}
	}
	return findings
}
