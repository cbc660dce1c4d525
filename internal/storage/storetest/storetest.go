// Package storetest holds behavior tests shared by every ports.Store
// implementation.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
)

// Run exercises store behavior against a fresh store per subtest.
func Run(t *testing.T, newStore func(t *testing.T) ports.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ports.Store)
	}{
		{"RunRoundTrip", testRunRoundTrip},
		{"RunNotFound", testRunNotFound},
		{"ListRuns", testListRuns},
		{"Sources", testSources},
		{"Citations", testCitations},
		{"Knowledge", testKnowledge},
		{"Profiles", testProfiles},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newRun(id, client string, status domain.RunStatus, age time.Duration) *domain.PipelineRun {
	return &domain.PipelineRun{
		ID:        id,
		ClientID:  client,
		Brief:     domain.Brief{ContentType: "post", Prompt: "p", Context: map[string]any{"tone": "plain"}},
		Status:    status,
		CreatedAt: base.Add(-age),
		UpdatedAt: base.Add(-age),
	}
}

func testRunRoundTrip(t *testing.T, s ports.Store) {
	ctx := context.Background()
	run := newRun("run-1", "client-1", domain.RunStatusPending, 0)
	run.Profile = &domain.ClientProfile{
		ID:          "client-1",
		Name:        "Acme",
		Constraints: domain.ClientConstraints{BannedTopics: []string{"gambling"}},
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	// Results are stored out of column order on purpose: research after
	// a re-approved intake must come back in execution order.
	run.Status = domain.RunStatusFailed
	run.Stage = domain.StageResearch
	run.HumanReviewRequired = true
	run.Results = domain.StageResults{
		{Stage: domain.StageResearch, Payload: json.RawMessage(`{"insights":[]}`), Verdict: domain.VerdictPass, QualityScore: 8.5, Attempts: 2, Citations: []string{"https://a.test/x"}},
		{Stage: domain.StageIntakeBrief, Payload: json.RawMessage(`{"summary":"s"}`), Verdict: domain.VerdictPass, Review: &domain.Review{Decision: domain.VerdictPass, DecidedAt: base}},
	}
	run.Telemetry = domain.Telemetry{CostUSD: 0.25, Tokens: 1200, Attempts: 3, ModelCalls: 3, Duration: 2 * time.Second}
	run.Error = &domain.RunError{Stage: domain.StageResearch, Kind: domain.KindGateRejected, Reason: "too few sources"}
	done := base.Add(time.Minute)
	run.CompletedAt = &done
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun() error = %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != domain.RunStatusFailed || got.Stage != domain.StageResearch || !got.HumanReviewRequired {
		t.Errorf("run state = %s/%s/%v", got.Status, got.Stage, got.HumanReviewRequired)
	}
	if want := []domain.StageName{domain.StageResearch, domain.StageIntakeBrief}; !slices.Equal(got.Results.Names(), want) {
		t.Errorf("result order = %v, want %v", got.Results.Names(), want)
	}
	research := got.Results.Get(domain.StageResearch)
	if research.QualityScore != 8.5 || research.Attempts != 2 || !slices.Equal(research.Citations, []string{"https://a.test/x"}) {
		t.Errorf("research result = %+v", research)
	}
	if rv := got.Results.Get(domain.StageIntakeBrief).Review; rv == nil || rv.Decision != domain.VerdictPass {
		t.Errorf("intake review = %+v", rv)
	}
	if got.Profile == nil || got.Profile.Name != "Acme" || !slices.Equal(got.Profile.Constraints.BannedTopics, []string{"gambling"}) {
		t.Errorf("profile snapshot = %+v", got.Profile)
	}
	if got.Telemetry != run.Telemetry {
		t.Errorf("telemetry = %+v, want %+v", got.Telemetry, run.Telemetry)
	}
	if got.Error == nil || *got.Error != *run.Error {
		t.Errorf("error = %+v", got.Error)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("completed at = %v", got.CompletedAt)
	}
	if got.Brief.Context["tone"] != "plain" {
		t.Errorf("brief context = %v", got.Brief.Context)
	}

	// Mutating the returned value must not leak into the store.
	got.Results[0].Verdict = domain.VerdictRejected
	again, _ := s.GetRun(ctx, "run-1")
	if again.Results.Get(domain.StageResearch).Verdict != domain.VerdictPass {
		t.Error("store state aliased by caller")
	}
}

func testRunNotFound(t *testing.T, s ports.Store) {
	ctx := context.Background()
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateRun(ctx, newRun("missing", "c", domain.RunStatusRunning, 0)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateRun() error = %v, want ErrNotFound", err)
	}
}

func testListRuns(t *testing.T, s ports.Store) {
	ctx := context.Background()
	runs := []*domain.PipelineRun{
		newRun("a", "client-1", domain.RunStatusCompleted, 3*time.Hour),
		newRun("b", "client-1", domain.RunStatusRunning, 2*time.Hour),
		newRun("c", "client-2", domain.RunStatusPending, time.Hour),
		newRun("d", "client-1", domain.RunStatusPending, 0),
	}
	for _, r := range runs {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		opts ports.RunListOptions
		want []string
	}{
		{"all newest first", ports.RunListOptions{}, []string{"d", "c", "b", "a"}},
		{"by client", ports.RunListOptions{ClientID: "client-1"}, []string{"d", "b", "a"}},
		{"by status", ports.RunListOptions{Statuses: []domain.RunStatus{domain.RunStatusPending, domain.RunStatusRunning}}, []string{"d", "c", "b"}},
		{"limit offset", ports.RunListOptions{ClientID: "client-1", Limit: 1, Offset: 1}, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListRuns(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListRuns() error = %v", err)
			}
			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.ID
			}
			if !slices.Equal(ids, tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func testSources(t *testing.T, s ports.Store) {
	ctx := context.Background()
	if _, err := s.GetSource(ctx, "https://a.test/x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetSource() error = %v, want ErrNotFound", err)
	}

	published := base.AddDate(0, -2, 0)
	src := &domain.ResearchSource{
		URL:              "https://a.test/x",
		Domain:           "a.test",
		Tier:             2,
		Title:            "A study",
		Insights:         []string{"claim one"},
		PublishedAt:      &published,
		CredibilityScore: 7.5,
		TimesReferenced:  1,
		FirstSeenAt:      base,
		LastReferencedAt: base,
	}
	if err := s.SaveSource(ctx, src); err != nil {
		t.Fatalf("SaveSource() error = %v", err)
	}

	src.TimesReferenced = 2
	src.CorroborationCount = 1
	src.Insights = append(src.Insights, "claim two")
	if err := s.SaveSource(ctx, src); err != nil {
		t.Fatalf("SaveSource() upsert error = %v", err)
	}

	got, err := s.GetSource(ctx, "https://a.test/x")
	if err != nil {
		t.Fatal(err)
	}
	if got.TimesReferenced != 2 || got.CorroborationCount != 1 || got.Tier != 2 || got.CredibilityScore != 7.5 {
		t.Errorf("source = %+v", got)
	}
	if !slices.Equal(got.Insights, []string{"claim one", "claim two"}) {
		t.Errorf("insights = %v", got.Insights)
	}
	if got.PublishedAt == nil || !got.PublishedAt.Equal(published) {
		t.Errorf("published at = %v", got.PublishedAt)
	}
}

func testCitations(t *testing.T, s ports.Store) {
	ctx := context.Background()
	if err := s.ReplaceCitations(ctx, "run-1/i1", "run-1", []string{"https://a.test/1", "https://b.test/1"}); err != nil {
		t.Fatalf("ReplaceCitations() error = %v", err)
	}
	if err := s.ReplaceCitations(ctx, "run-2/i1", "run-2", []string{"https://a.test/1"}); err != nil {
		t.Fatal(err)
	}

	n, err := s.CitingRuns(ctx, "https://a.test/1")
	if err != nil || n != 2 {
		t.Errorf("CitingRuns(a) = %d, %v; want 2", n, err)
	}

	// A retried attempt replaces the insight's citation set.
	if err := s.ReplaceCitations(ctx, "run-1/i1", "run-1", []string{"https://c.test/1"}); err != nil {
		t.Fatal(err)
	}
	urls, err := s.CitationURLs(ctx, "run-1/i1")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(urls, []string{"https://c.test/1"}) {
		t.Errorf("urls after replace = %v", urls)
	}
	if n, _ := s.CitingRuns(ctx, "https://b.test/1"); n != 0 {
		t.Errorf("CitingRuns(b) after replace = %d, want 0", n)
	}
	if n, _ := s.CitingRuns(ctx, "https://a.test/1"); n != 1 {
		t.Errorf("CitingRuns(a) after replace = %d, want 1", n)
	}

	if err := s.ReplaceCitations(ctx, "run-2/i1", "run-2", nil); err != nil {
		t.Fatal(err)
	}
	if urls, _ := s.CitationURLs(ctx, "run-2/i1"); len(urls) != 0 {
		t.Errorf("urls after clearing = %v", urls)
	}
}

func testKnowledge(t *testing.T, s ports.Store) {
	ctx := context.Background()
	entries := []*domain.KnowledgeEntry{
		{ID: "k1", ClientID: "client-1", Type: domain.KnowledgeHook, Title: "h1", Body: "b", SuccessScore: 0.4, SourceRunID: "run-1", SourceStage: domain.StageAngleMatrix, CreatedAt: base, UpdatedAt: base},
		{ID: "k2", ClientID: "client-1", Type: domain.KnowledgeVoice, Title: "v1", Body: "b", SuccessScore: 0.9, SourceRunID: "run-1", CreatedAt: base, UpdatedAt: base},
		{ID: "k3", ClientID: "", Type: domain.KnowledgeHook, Title: "global", Body: "b", SuccessScore: 0.7, CreatedAt: base, UpdatedAt: base},
		{ID: "k4", ClientID: "client-2", Type: domain.KnowledgeHook, Title: "other", Body: "b", SuccessScore: 1, CreatedAt: base, UpdatedAt: base},
	}
	for _, e := range entries {
		if err := s.SaveKnowledge(ctx, e); err != nil {
			t.Fatalf("SaveKnowledge() error = %v", err)
		}
	}

	entries[0].UsageCount = 3
	entries[0].SuccessScore = 0.5
	if err := s.SaveKnowledge(ctx, entries[0]); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetKnowledge(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UsageCount != 3 || got.SuccessScore != 0.5 || got.SourceStage != domain.StageAngleMatrix {
		t.Errorf("k1 = %+v", got)
	}
	if _, err := s.GetKnowledge(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetKnowledge() error = %v, want ErrNotFound", err)
	}

	tests := []struct {
		name string
		opts ports.KnowledgeListOptions
		want []string
	}{
		{"client only", ports.KnowledgeListOptions{ClientID: "client-1"}, []string{"k2", "k1"}},
		{"client and global hooks", ports.KnowledgeListOptions{ClientID: "client-1", IncludeGlobal: true, Types: []domain.KnowledgeType{domain.KnowledgeHook}}, []string{"k3", "k1"}},
		{"by source run", ports.KnowledgeListOptions{SourceRunID: "run-1"}, []string{"k2", "k1"}},
		{"limit", ports.KnowledgeListOptions{Limit: 2}, []string{"k4", "k2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListKnowledge(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListKnowledge() error = %v", err)
			}
			ids := make([]string, len(list))
			for i, e := range list {
				ids[i] = e.ID
			}
			if !slices.Equal(ids, tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func testProfiles(t *testing.T, s ports.Store) {
	ctx := context.Background()
	if _, err := s.GetProfile(ctx, "client-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetProfile() error = %v, want ErrNotFound", err)
	}

	p := &domain.ClientProfile{
		ID:    "client-1",
		Name:  "Acme",
		Email: "ops@acme.test",
		ServiceOffering: domain.ServiceOffering{
			Services: []string{"RevOps audits"},
		},
		Constraints: domain.ClientConstraints{BannedTopics: []string{"gambling"}},
	}
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatalf("SaveProfile() error = %v", err)
	}
	created := p.CreatedAt
	if created.IsZero() {
		t.Fatal("CreatedAt not set")
	}

	p.Name = "Acme Inc"
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetProfile(ctx, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Acme Inc" || !slices.Equal(got.Constraints.BannedTopics, []string{"gambling"}) {
		t.Errorf("profile = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on update: %v -> %v", created, got.CreatedAt)
	}
}
