package domain

import (
	"encoding/json"
	"time"
)

// RunStatus is the top-level lifecycle status of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Brief is the content request submitted for a client.
type Brief struct {
	ContentType string         `json:"content_type"`
	Prompt      string         `json:"prompt"`
	Context     map[string]any `json:"context,omitempty"`
	// Model optionally overrides the configured generation model.
	Model string `json:"model,omitempty"`
	// IncludeSEO enables the optional seo stage.
	IncludeSEO bool `json:"include_seo,omitempty"`
}

// Telemetry accumulates cost and latency across stage executions.
type Telemetry struct {
	CostUSD    float64       `json:"cost_usd"`
	Tokens     int           `json:"tokens"`
	Duration   time.Duration `json:"duration_ns"`
	Attempts   int           `json:"attempts"`
	ModelCalls int           `json:"model_calls"`
}

// Add folds another measurement into t.
func (t *Telemetry) Add(o Telemetry) {
	t.CostUSD += o.CostUSD
	t.Tokens += o.Tokens
	t.Duration += o.Duration
	t.Attempts += o.Attempts
	t.ModelCalls += o.ModelCalls
}

// RunError is the terminal error recorded on a failed run.
type RunError struct {
	Stage  StageName `json:"stage"`
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

// PipelineRun is one end-to-end execution of the pipeline for one brief.
type PipelineRun struct {
	ID       string    `json:"id"`
	ClientID string    `json:"client_id"`
	Brief    Brief     `json:"brief"`
	Status   RunStatus `json:"status"`
	// Profile is the client profile as it was when the run was created.
	// Later edits to the client do not reach a run in flight.
	Profile *ClientProfile `json:"profile,omitempty"`
	// Stage points at the stage currently executing or awaiting review; it
	// holds the last stage once the run is terminal.
	Stage               StageName    `json:"stage,omitempty"`
	Results             StageResults `json:"results"`
	HumanReviewRequired bool         `json:"human_review_required"`
	Telemetry           Telemetry    `json:"telemetry"`
	Error               *RunError    `json:"error,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
	CompletedAt         *time.Time   `json:"completed_at,omitempty"`
}

// PausedForReview reports whether the run is blocked on a human decision.
// It is a substate of running, not a separate status.
func (r *PipelineRun) PausedForReview() bool {
	return r.Status == RunStatusRunning && r.HumanReviewRequired
}

// Clone returns a deep copy so callers can never alias store state.
func (r *PipelineRun) Clone() *PipelineRun {
	if r == nil {
		return nil
	}
	c := *r
	if r.Brief.Context != nil {
		// Context values are JSON-shaped; a round trip gives a deep copy.
		if raw, err := json.Marshal(r.Brief.Context); err == nil {
			var ctx map[string]any
			if json.Unmarshal(raw, &ctx) == nil {
				c.Brief.Context = ctx
			}
		}
	}
	if r.Results != nil {
		c.Results = make(StageResults, len(r.Results))
		for i, res := range r.Results {
			c.Results[i] = res.Clone()
		}
	}
	c.Profile = r.Profile.Clone()
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
