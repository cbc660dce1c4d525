package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/storage/memory"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := New(DefaultConfig(), store, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("k%d", n)
	}
	return svc, store
}

func result(stage domain.StageName, score float64, payload string) *domain.StageResult {
	return &domain.StageResult{
		Stage:        stage,
		Payload:      json.RawMessage(payload),
		QualityScore: score,
		Verdict:      domain.VerdictPass,
	}
}

func completedRun() *domain.PipelineRun {
	return &domain.PipelineRun{
		ID:       "run-1",
		ClientID: "client-1",
		Status:   domain.RunStatusCompleted,
		Results: domain.StageResults{
			result(domain.StageSynthesis, 9, `{"themes":["t"],"summary":"s","objections":[
				{"objection":"Too expensive","rebuttal":"Pays back in a quarter"},
				{"objection":"No time","rebuttal":""}]}`),
			result(domain.StageAngleMatrix, 8, `{"angles":[
				{"hook":"Stop guessing your pipeline","angle":"certainty"},
				{"hook":"Your CRM is lying to you","angle":""}]}`),
			result(domain.StageVoiceTransfer, 7, `{"body":"b","voice_notes":["Short sentences, no jargon"]}`),
		},
	}
}

func TestOnRunCompleted(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	entries, err := svc.OnRunCompleted(ctx, completedRun())
	if err != nil {
		t.Fatalf("OnRunCompleted() error = %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}

	counts := map[domain.KnowledgeType]int{}
	for _, e := range entries {
		counts[e.Type]++
		if e.ClientID != "client-1" || e.SourceRunID != "run-1" {
			t.Errorf("entry %s scoped to client %q run %q", e.ID, e.ClientID, e.SourceRunID)
		}
		if e.UsageCount != 0 {
			t.Errorf("entry %s usage = %d, want 0", e.ID, e.UsageCount)
		}
	}
	want := map[domain.KnowledgeType]int{domain.KnowledgeHook: 2, domain.KnowledgeRebuttal: 1, domain.KnowledgeVoice: 1}
	for typ, n := range want {
		if counts[typ] != n {
			t.Errorf("%s entries = %d, want %d", typ, counts[typ], n)
		}
	}

	hooks, err := store.ListKnowledge(ctx, ports.KnowledgeListOptions{ClientID: "client-1", Types: []domain.KnowledgeType{domain.KnowledgeHook}})
	if err != nil {
		t.Fatal(err)
	}
	if len(hooks) != 2 {
		t.Fatalf("stored hooks = %d, want 2", len(hooks))
	}
	if hooks[0].SuccessScore != 0.8 {
		t.Errorf("hook success = %v, want 0.8", hooks[0].SuccessScore)
	}
	if hooks[0].SourceStage != domain.StageAngleMatrix {
		t.Errorf("hook source stage = %s", hooks[0].SourceStage)
	}

	again, err := svc.OnRunCompleted(ctx, completedRun())
	if err != nil {
		t.Fatalf("second OnRunCompleted() error = %v", err)
	}
	if len(again) != 4 {
		t.Errorf("second call returned %d entries, want the original 4", len(again))
	}
	all, _ := store.ListKnowledge(ctx, ports.KnowledgeListOptions{})
	if len(all) != 4 {
		t.Errorf("store holds %d entries after repeat, want 4", len(all))
	}
}

func TestOnRunCompleted_RequiresCompletedRun(t *testing.T) {
	svc, _ := newService(t)
	run := completedRun()
	run.Status = domain.RunStatusFailed

	_, err := svc.OnRunCompleted(context.Background(), run)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestOnRunCompleted_SkipsUnpassedStages(t *testing.T) {
	svc, _ := newService(t)
	run := completedRun()
	run.Results[1] = run.Results[1].WithReview(domain.VerdictRejected, "off brand", time.Now())

	entries, err := svc.OnRunCompleted(context.Background(), run)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Type == domain.KnowledgeHook {
			t.Fatalf("hook drafted from a rejected angle matrix: %+v", e)
		}
	}
}

func TestOnPerformanceUpdate(t *testing.T) {
	tests := []struct {
		name    string
		start   float64
		metrics domain.PerformanceMetrics
		want    float64
	}{
		{"at target", 0.8, domain.PerformanceMetrics{Impressions: 1000, Engagements: 15, Clicks: 5}, 0.8},
		{"double target", 0.8, domain.PerformanceMetrics{Impressions: 1000, Engagements: 30, Clicks: 10}, 0.9},
		{"far above target is capped", 0.8, domain.PerformanceMetrics{Impressions: 100, Engagements: 50}, 0.9},
		{"no engagement", 0.8, domain.PerformanceMetrics{Impressions: 1000}, 0.7},
		{"no impressions leaves score", 0.8, domain.PerformanceMetrics{Engagements: 3}, 0.8},
		{"clamped high", 0.95, domain.PerformanceMetrics{Impressions: 1000, Engagements: 40}, 1},
		{"clamped low", 0.05, domain.PerformanceMetrics{Impressions: 1000}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newService(t)
			ctx := context.Background()
			_ = store.SaveKnowledge(ctx, &domain.KnowledgeEntry{ID: "k1", Type: domain.KnowledgeHook, SourceRunID: "run-1", SuccessScore: tt.start})
			_ = store.SaveKnowledge(ctx, &domain.KnowledgeEntry{ID: "k2", Type: domain.KnowledgeHook, SourceRunID: "run-2", SuccessScore: 0.5})

			updated, err := svc.OnPerformanceUpdate(ctx, "run-1", tt.metrics)
			if err != nil {
				t.Fatalf("OnPerformanceUpdate() error = %v", err)
			}
			if len(updated) != 1 {
				t.Fatalf("updated %d entries, want 1", len(updated))
			}
			got, _ := store.GetKnowledge(ctx, "k1")
			if got.SuccessScore != tt.want {
				t.Errorf("success = %v, want %v", got.SuccessScore, tt.want)
			}
			other, _ := store.GetKnowledge(ctx, "k2")
			if other.SuccessScore != 0.5 {
				t.Errorf("unrelated entry changed to %v", other.SuccessScore)
			}
		})
	}
}

func TestOnPerformanceUpdate_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.OnPerformanceUpdate(ctx, "", domain.PerformanceMetrics{}); err == nil {
		t.Error("expected error for empty content id")
	}
	if _, err := svc.OnPerformanceUpdate(ctx, "run-1", domain.PerformanceMetrics{Impressions: -1}); err == nil {
		t.Error("expected error for negative metrics")
	}
	updated, err := svc.OnPerformanceUpdate(ctx, "unknown", domain.PerformanceMetrics{Impressions: 10})
	if err != nil || len(updated) != 0 {
		t.Errorf("unknown content = (%v, %v), want no entries and no error", updated, err)
	}
}

func TestRecordUsage(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	_ = store.SaveKnowledge(ctx, &domain.KnowledgeEntry{ID: "k1", Type: domain.KnowledgeVoice})

	if err := svc.RecordUsage(ctx, []string{"k1", "missing", "k1"}); err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}
	got, _ := store.GetKnowledge(ctx, "k1")
	if got.UsageCount != 2 {
		t.Errorf("usage = %d, want 2", got.UsageCount)
	}
}

func TestTitleTruncation(t *testing.T) {
	long := ""
	for len(long) < 100 {
		long += "word "
	}
	got := title(long)
	if n := len([]rune(got)); n != maxTitle {
		t.Errorf("title length = %d, want %d", n, maxTitle)
	}
}
