package research

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/pkg/safehttp"
	"github.com/polything/phoenix-template/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(opts ...Option) (*Cache, *memory.Store) {
	store := memory.New()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewCache(store, opts...), store
}

func TestCache_LookupOrCreateDeduplicates(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(WithReputation(NewReputation(DomainReputation{Domain: "hbr.org", Tier: 2})))

	first, err := cache.LookupOrCreate(ctx, "HTTPS://HBR.org/2025/saas-pricing/")
	if err != nil {
		t.Fatalf("LookupOrCreate() error = %v", err)
	}
	second, err := cache.LookupOrCreate(ctx, "https://hbr.org/2025/saas-pricing")
	if err != nil {
		t.Fatalf("LookupOrCreate() error = %v", err)
	}

	if first.URL != second.URL {
		t.Fatalf("URL mismatch: %q vs %q", first.URL, second.URL)
	}
	if second.TimesReferenced != 2 {
		t.Errorf("TimesReferenced = %d, want 2", second.TimesReferenced)
	}
	if second.Tier != 2 || second.Domain != "hbr.org" {
		t.Errorf("Tier/Domain = %d/%q", second.Tier, second.Domain)
	}
	if second.CredibilityScore == 0 {
		t.Error("credibility was not computed")
	}
}

func TestCache_RecordInsightCorroborationAcrossRuns(t *testing.T) {
	ctx := context.Background()
	cache, store := newTestCache()
	shared := "https://example.com/shared"

	if _, err := cache.RecordInsight(ctx, Insight{RunID: "run-a", ID: "i1", Claim: "c", URLs: []string{shared, "https://a.test/1"}}); err != nil {
		t.Fatalf("RecordInsight() error = %v", err)
	}
	src, _ := store.GetSource(ctx, shared)
	if src.CorroborationCount != 0 {
		t.Fatalf("CorroborationCount after one run = %d, want 0", src.CorroborationCount)
	}
	before := src.CredibilityScore

	if _, err := cache.RecordInsight(ctx, Insight{RunID: "run-b", ID: "i1", Claim: "c", URLs: []string{shared}}); err != nil {
		t.Fatalf("RecordInsight() error = %v", err)
	}
	src, _ = store.GetSource(ctx, shared)
	if src.CorroborationCount != 1 {
		t.Errorf("CorroborationCount after two runs = %d, want 1", src.CorroborationCount)
	}
	if src.CredibilityScore <= before {
		t.Errorf("score did not rise with corroboration: %v -> %v", before, src.CredibilityScore)
	}
	if len(src.Insights) != 1 {
		t.Errorf("Insights = %v, want one deduplicated claim", src.Insights)
	}
}

func TestCache_RetriedAttemptReplacesCitations(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache()
	key := InsightKey("run-1", "i1")

	_, err := cache.RecordInsight(ctx, Insight{RunID: "run-1", ID: "i1", URLs: []string{
		"https://a.test/x", "https://b.test/x",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := cache.CountDistinctSourcesFor(ctx, key); n != 2 {
		t.Fatalf("CountDistinctSourcesFor() = %d, want 2", n)
	}

	_, err = cache.RecordInsight(ctx, Insight{RunID: "run-1", ID: "i1", URLs: []string{
		"https://a.test/x", "https://b.test/x/", "https://c.test/x", "https://d.test/x",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := cache.CountDistinctSourcesFor(ctx, key); n != 4 {
		t.Errorf("CountDistinctSourcesFor() = %d, want 4 (b.test deduplicated)", n)
	}
}

func TestCache_RecordInsightSkipsInvalidURLs(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache()

	sources, err := cache.RecordInsight(ctx, Insight{RunID: "r", ID: "i", URLs: []string{"not a url", "https://ok.test"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 {
		t.Errorf("len(sources) = %d, want 1", len(sources))
	}
}

func TestCache_GetUnknownSource(t *testing.T) {
	cache, _ := newTestCache()
	_, err := cache.Get(context.Background(), "https://nowhere.test")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

type stubFetcher struct {
	calls int
	md    *PageMetadata
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*PageMetadata, error) {
	f.calls++
	return f.md, nil
}

func TestCache_FetchesMetadataOnlyForNewSources(t *testing.T) {
	ctx := context.Background()
	published := testNow.AddDate(-3, 0, 0)
	fetcher := &stubFetcher{md: &PageMetadata{Title: "Old report", PublishedAt: &published}}
	cache, _ := newTestCache(WithFetcher(fetcher))

	src, err := cache.LookupOrCreate(ctx, "https://old.test/report")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cache.LookupOrCreate(ctx, "https://old.test/report"); err != nil {
		t.Fatal(err)
	}

	if fetcher.calls != 1 {
		t.Errorf("fetcher calls = %d, want 1", fetcher.calls)
	}
	if src.Title != "Old report" || src.PublishedAt == nil {
		t.Errorf("metadata not applied: %+v", src)
	}
	if b := cache.Explain(src); b.Recency >= 10 {
		t.Errorf("Recency = %v, want decayed for a 3-year-old source", b.Recency)
	}
}

func TestReputation_LookupParentDomain(t *testing.T) {
	r := NewReputation(DomainReputation{Domain: "nature.com", Tier: 1, Authoritative: true})
	if got := r.Lookup("www.blogs.nature.com"); got.Tier != 1 || !got.Authoritative {
		t.Errorf("Lookup() = %+v", got)
	}
	if got := r.Lookup("example.org"); got.Tier != 0 {
		t.Errorf("unknown domain tier = %d", got.Tier)
	}
}

func TestLoadReputation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reputation.yaml")
	data := "domains:\n  - domain: gartner.com\n    tier: 2\n  - domain: sec.gov\n    tier: 1\n    authoritative: true\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := LoadReputation(path)
	if err != nil {
		t.Fatalf("LoadReputation() error = %v", err)
	}
	if got := r.Lookup("sec.gov"); got.Tier != 1 || !got.Authoritative {
		t.Errorf("Lookup(sec.gov) = %+v", got)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("domains:\n  - tier: 1\n"), 0o600)
	if _, err := LoadReputation(bad); err == nil {
		t.Error("expected error for entry without domain")
	}
}

func TestReputation_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reputation.yaml")
	if err := os.WriteFile(path, []byte("domains:\n  - domain: gartner.com\n    tier: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := LoadReputation(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Watch(ctx, path); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("domains:\n  - domain: gartner.com\n    tier: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for r.Lookup("gartner.com").Tier != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("tier = %d after rewrite, want 2", r.Lookup("gartner.com").Tier)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPageFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head>
			<title>Fallback title</title>
			<meta property="og:title" content="Benchmark Report 2025">
			<meta name="description" content="Annual SaaS benchmark.">
			<meta property="article:published_time" content="2025-04-02T10:00:00Z">
		</head><body></body></html>`))
	}))
	defer srv.Close()

	md, err := NewPageFetcher(srv.Client()).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if md.Title != "Benchmark Report 2025" {
		t.Errorf("Title = %q", md.Title)
	}
	if !strings.HasPrefix(md.Description, "Annual") {
		t.Errorf("Description = %q", md.Description)
	}
	if md.PublishedAt == nil || md.PublishedAt.Year() != 2025 {
		t.Errorf("PublishedAt = %v", md.PublishedAt)
	}
}

func TestPageFetcher_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := NewPageFetcher(srv.Client()).Fetch(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 404")
	}
}

func TestPageFetcher_DefaultRefusesPrivateAddresses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>internal</title></head></html>"))
	}))
	defer srv.Close()

	_, err := NewPageFetcher(nil).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, safehttp.ErrPrivateAddress) {
		t.Errorf("error = %v, want safehttp.ErrPrivateAddress", err)
	}
}
