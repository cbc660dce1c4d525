package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStageResults_PutReplacesInPlace(t *testing.T) {
	var rs StageResults
	rs = rs.Put(&StageResult{Stage: StageIntakeBrief, Verdict: VerdictPass})
	rs = rs.Put(&StageResult{Stage: StageResearch, Verdict: VerdictRejected})
	rs = rs.Put(&StageResult{Stage: StageResearch, Verdict: VerdictPass})

	if len(rs) != 2 {
		t.Fatalf("len = %d, want 2", len(rs))
	}
	names := rs.Names()
	if names[0] != StageIntakeBrief || names[1] != StageResearch {
		t.Errorf("Names() = %v", names)
	}
	if !rs.Get(StageResearch).Passed() {
		t.Error("replacement result was not stored")
	}
	if rs.Get(StageDraft) != nil {
		t.Error("Get on absent stage should return nil")
	}
	if rs.Get(StageDraft).Passed() {
		t.Error("nil result must not pass")
	}
}

func TestStageResult_WithReview(t *testing.T) {
	orig := &StageResult{Stage: StageOutline, Verdict: VerdictNeedsReview, Findings: []string{"low score"}}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	approved := orig.WithReview(VerdictPass, "looks good", at)

	if orig.Verdict != VerdictNeedsReview || orig.Review != nil {
		t.Error("WithReview mutated the original result")
	}
	if approved.Verdict != VerdictPass {
		t.Errorf("Verdict = %v, want pass", approved.Verdict)
	}
	if approved.Review == nil || approved.Review.Reason != "looks good" || !approved.Review.DecidedAt.Equal(at) {
		t.Errorf("Review = %+v", approved.Review)
	}
	approved.Findings[0] = "changed"
	if orig.Findings[0] != "low score" {
		t.Error("findings slice is shared between copies")
	}
}

func TestPipelineRun_CloneIsDeep(t *testing.T) {
	done := time.Now()
	run := &PipelineRun{
		ID:     "run-1",
		Status: RunStatusRunning,
		Brief:  Brief{Prompt: "x", Context: map[string]any{"k": []any{"a"}}},
		Results: StageResults{
			{Stage: StageIntakeBrief, Payload: json.RawMessage(`{"a":1}`), Verdict: VerdictPass},
		},
		Error:       &RunError{Stage: StageDraft, Kind: KindPermanent},
		CompletedAt: &done,
	}

	c := run.Clone()
	c.Results[0].Payload[2] = 'b'
	c.Brief.Context["k"] = "changed"
	c.Error.Reason = "changed"

	if string(run.Results[0].Payload) != `{"a":1}` {
		t.Error("payload shared with clone")
	}
	if _, ok := run.Brief.Context["k"].([]any); !ok {
		t.Error("brief context shared with clone")
	}
	if run.Error.Reason != "" {
		t.Error("run error shared with clone")
	}
}

func TestPipelineRun_PausedForReview(t *testing.T) {
	run := &PipelineRun{Status: RunStatusRunning, HumanReviewRequired: true}
	if !run.PausedForReview() {
		t.Error("expected paused")
	}
	run.Status = RunStatusFailed
	if run.PausedForReview() {
		t.Error("terminal run cannot be paused")
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	for status, want := range map[RunStatus]bool{
		RunStatusPending:   false,
		RunStatusRunning:   false,
		RunStatusCompleted: true,
		RunStatusFailed:    true,
		RunStatusCancelled: true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestPerformanceMetrics_EngagementRate(t *testing.T) {
	m := PerformanceMetrics{Impressions: 1000, Engagements: 15, Clicks: 5}
	if got := m.EngagementRate(); got != 0.02 {
		t.Errorf("EngagementRate() = %v, want 0.02", got)
	}
	if got := (PerformanceMetrics{}).EngagementRate(); got != 0 {
		t.Errorf("EngagementRate() with no impressions = %v", got)
	}
}

func TestClientProfile_Validate(t *testing.T) {
	valid := ClientProfile{
		Name:                 "Acme",
		Email:                "ops@acme.test",
		PositioningStatement: "We help fintech teams ship compliant content.",
		ServiceOffering:      ServiceOffering{Services: []string{"consulting"}},
		ICP:                  ICPProfile{Industry: "fintech"},
		ContentPreferences:   ContentPreferences{Platforms: []string{"linkedin"}, ContentTypes: []string{"post"}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	bad := valid
	bad.PositioningStatement = "short"
	bad.VoiceExamples = make([]VoiceExample, 11)
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if ToAPIError(err).Type != ErrorTypeInvalidRequest {
		t.Errorf("error type = %v", ToAPIError(err).Type)
	}
}
