package domain

import (
	"encoding/json"
	"time"
)

// StageName identifies one transformation step of the content pipeline.
type StageName string

const (
	StageIntakeBrief    StageName = "intake_brief"
	StageResearch       StageName = "research"
	StageSynthesis      StageName = "synthesis"
	StageResourcing     StageName = "resourcing"
	StageAngleMatrix    StageName = "angle_matrix"
	StageBacklog        StageName = "backlog"
	StageOutline        StageName = "outline"
	StageDraft          StageName = "draft"
	StageVoiceTransfer  StageName = "voice_transfer"
	StageFactCheck      StageName = "fact_check"
	StageCompliance     StageName = "compliance"
	StageSEO            StageName = "seo"
	StagePackaging      StageName = "packaging"
	StageSchedulingMeta StageName = "scheduling_meta"
)

// Verdict is the quality gate's decision on a stage result.
type Verdict string

const (
	VerdictPass        Verdict = "pass"
	VerdictNeedsReview Verdict = "needs_review"
	VerdictRejected    Verdict = "rejected"
)

// Review records a human decision taken on a stage result that was paused
// for review.
type Review struct {
	Decision  Verdict   `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// StageResult is the output of one stage execution. It is never mutated in
// place: retries and review decisions produce a replacement value.
type StageResult struct {
	Stage        StageName       `json:"stage"`
	Payload      json.RawMessage `json:"payload"`
	QualityScore float64         `json:"quality_score"`
	Verdict      Verdict         `json:"verdict"`
	// Findings lists gate observations (missing sources, banned topics, ...).
	Findings  []string      `json:"findings,omitempty"`
	Model     string        `json:"model,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	CostUSD   float64       `json:"cost_usd"`
	Tokens    int           `json:"tokens,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Attempts  int           `json:"attempts"`
	Citations []string      `json:"citations,omitempty"`
	Cached    bool          `json:"cached,omitempty"`
	Review    *Review       `json:"review,omitempty"`
	// CompletedAt is when the result was produced by the executor.
	CompletedAt time.Time `json:"completed_at"`
}

// Passed reports whether downstream stages may consume this result.
func (r *StageResult) Passed() bool {
	return r != nil && r.Verdict == VerdictPass
}

// Clone returns a deep copy of the result.
func (r *StageResult) Clone() *StageResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	if r.Findings != nil {
		c.Findings = append([]string(nil), r.Findings...)
	}
	if r.Citations != nil {
		c.Citations = append([]string(nil), r.Citations...)
	}
	if r.Review != nil {
		rv := *r.Review
		c.Review = &rv
	}
	return &c
}

// WithReview returns a copy of the result carrying a human decision. The
// verdict of the copy becomes the decision.
func (r *StageResult) WithReview(decision Verdict, reason string, at time.Time) *StageResult {
	c := r.Clone()
	c.Verdict = decision
	c.Review = &Review{Decision: decision, Reason: reason, DecidedAt: at}
	return c
}

// StageResults is the ordered stage → result mapping of a run. Insertion
// order is execution order and stage names are unique.
type StageResults []*StageResult

// Get returns the result for a stage, or nil.
func (rs StageResults) Get(stage StageName) *StageResult {
	for _, r := range rs {
		if r.Stage == stage {
			return r
		}
	}
	return nil
}

// Put replaces an existing result for the same stage in place or appends a
// new one.
func (rs StageResults) Put(res *StageResult) StageResults {
	for i, r := range rs {
		if r.Stage == res.Stage {
			rs[i] = res
			return rs
		}
	}
	return append(rs, res)
}

// Names returns the stage names in execution order.
func (rs StageResults) Names() []StageName {
	names := make([]StageName, len(rs))
	for i, r := range rs {
		names[i] = r.Stage
	}
	return names
}
