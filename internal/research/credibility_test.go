package research

import (
	"testing"
	"time"
)

func TestScore_RecencyDecaysMonotonically(t *testing.T) {
	cfg := DefaultScoreConfig()
	published := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Factors{Tier: 2, PublishedAt: &published, Corroborations: 1}

	fresh := Score(f, cfg, published.AddDate(1, 0, 0))
	older := Score(f, cfg, published.AddDate(2, 0, 0))
	oldest := Score(f, cfg, published.AddDate(4, 0, 0))

	if fresh.Recency != 10 {
		t.Errorf("12-month-old recency = %v, want 10", fresh.Recency)
	}
	if !(fresh.Total > older.Total && older.Total > oldest.Total) {
		t.Errorf("totals not decaying: %v, %v, %v", fresh.Total, older.Total, oldest.Total)
	}
	if fresh.Domain != older.Domain || fresh.Corroboration != older.Corroboration {
		t.Error("only the recency term may change with age")
	}
}

func TestScore_AuthoritativeIgnoresAge(t *testing.T) {
	published := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := Score(Factors{Tier: 1, PublishedAt: &published, Authoritative: true}, DefaultScoreConfig(), now)
	if b.Recency != 10 {
		t.Errorf("Recency = %v, want 10 for authoritative source", b.Recency)
	}
}

func TestScore_Deterministic(t *testing.T) {
	published := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Factors{Tier: 3, PublishedAt: &published, Corroborations: 2}
	if a, b := Score(f, DefaultScoreConfig(), now), Score(f, DefaultScoreConfig(), now); a != b {
		t.Errorf("Score not deterministic: %+v vs %+v", a, b)
	}
}

func TestScore_Components(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		f     Factors
		total float64
	}{
		// 0.5*10 + 0.3*10 + 0.2*0
		{"tier 1 fresh uncorroborated", Factors{Tier: 1, PublishedAt: &now}, 8},
		// 0.5*3 + 0.3*5 + 0.2*5
		{"unknown domain undated once corroborated", Factors{Corroborations: 1}, 4},
		// 0.5*7.5 + 0.3*10 + 0.2*8.75
		{"tier 2 fresh corroborated three times", Factors{Tier: 2, PublishedAt: &now, Corroborations: 3}, 8.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.f, DefaultScoreConfig(), now).Total; got != tt.total {
				t.Errorf("Total = %v, want %v", got, tt.total)
			}
		})
	}
}

func TestScore_WeightsAreConfiguration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultScoreConfig()
	cfg.Weights = Weights{Domain: 1}
	if got := Score(Factors{Tier: 3, Corroborations: 5}, cfg, now).Total; got != 5 {
		t.Errorf("domain-only Total = %v, want 5", got)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "HTTPS://Example.COM/Report/", want: "https://example.com/Report"},
		{in: "https://example.com/a?b=1#frag", want: "https://example.com/a?b=1"},
		{in: "https://example.com/", want: "https://example.com"},
		{in: "example.com/path", wantErr: true},
		{in: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDomain(t *testing.T) {
	if got := Domain("https://www.nature.com/articles/x"); got != "nature.com" {
		t.Errorf("Domain() = %q", got)
	}
}
