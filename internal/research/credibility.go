// Package research deduplicates and scores the external sources cited by the
// research stage.
//
// Credibility is an explainable 0-10 score computed from three factors:
// domain reputation tier, recency and corroboration by other runs. The
// weights come from configuration. Score is a pure function of its inputs,
// so two sources with identical factors differ only by age.
package research

import (
	"math"
	"time"
)

// Weights sets the relative influence of each credibility factor. They do
// not need to sum to one; the total is normalized by their sum.
type Weights struct {
	Domain        float64 `koanf:"domain"`
	Recency       float64 `koanf:"recency"`
	Corroboration float64 `koanf:"corroboration"`
}

// DefaultWeights favours domain reputation, then freshness.
var DefaultWeights = Weights{Domain: 0.5, Recency: 0.3, Corroboration: 0.2}

// ScoreConfig parameterizes the credibility formula.
type ScoreConfig struct {
	Weights Weights
	// FreshMonths is how old a source may be before recency decays.
	FreshMonths float64
	// HalfLifeMonths is how many months past FreshMonths halve the
	// recency score.
	HalfLifeMonths float64
}

// DefaultScoreConfig returns the stock formula parameters.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{Weights: DefaultWeights, FreshMonths: 18, HalfLifeMonths: 12}
}

// Factors are the inputs to the credibility formula.
type Factors struct {
	Tier           int
	PublishedAt    *time.Time
	Authoritative  bool
	Corroborations int
}

// Breakdown is a scored source with each factor's 0-10 contribution.
type Breakdown struct {
	Domain        float64 `json:"domain"`
	Recency       float64 `json:"recency"`
	Corroboration float64 `json:"corroboration"`
	Total         float64 `json:"total"`
}

// tierScores maps reputation tiers to a 0-10 domain score. Tier 0 is an
// unknown domain.
var tierScores = map[int]float64{
	1: 10,
	2: 7.5,
	3: 5,
}

const (
	unknownTierScore  = 3
	unknownAgeScore   = 5
	daysPerMonth      = 30.44
	corroborationBase = 0.5
)

// Score computes the credibility breakdown of a source as of now.
func Score(f Factors, cfg ScoreConfig, now time.Time) Breakdown {
	b := Breakdown{
		Domain:        domainScore(f.Tier),
		Recency:       recencyScore(f.PublishedAt, f.Authoritative, cfg, now),
		Corroboration: corroborationScore(f.Corroborations),
	}

	w := cfg.Weights
	sum := w.Domain + w.Recency + w.Corroboration
	if sum <= 0 {
		w, sum = DefaultWeights, 1
	}
	total := (w.Domain*b.Domain + w.Recency*b.Recency + w.Corroboration*b.Corroboration) / sum
	b.Total = round1(clamp(total, 0, 10))
	return b
}

func domainScore(tier int) float64 {
	if s, ok := tierScores[tier]; ok {
		return s
	}
	return unknownTierScore
}

func recencyScore(published *time.Time, authoritative bool, cfg ScoreConfig, now time.Time) float64 {
	if authoritative {
		return 10
	}
	if published == nil || published.IsZero() {
		return unknownAgeScore
	}
	ageMonths := now.Sub(*published).Hours() / 24 / daysPerMonth
	if ageMonths <= cfg.FreshMonths {
		return 10
	}
	halfLife := cfg.HalfLifeMonths
	if halfLife <= 0 {
		halfLife = 12
	}
	return 10 * math.Pow(0.5, (ageMonths-cfg.FreshMonths)/halfLife)
}

func corroborationScore(n int) float64 {
	if n <= 0 {
		return 0
	}
	return 10 * (1 - math.Pow(corroborationBase, float64(n)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
