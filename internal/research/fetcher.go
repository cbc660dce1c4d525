package research

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/polything/phoenix-template/internal/pkg/safehttp"
)

// PageMetadata is what can be learned about a source from its HTML head.
type PageMetadata struct {
	Title       string
	Description string
	PublishedAt *time.Time
}

// MetadataFetcher loads page metadata for a newly seen source.
type MetadataFetcher interface {
	Fetch(ctx context.Context, url string) (*PageMetadata, error)
}

// PageFetcher fetches source pages over HTTP and reads their metadata.
type PageFetcher struct {
	client *http.Client
}

// NewPageFetcher wires an HTTP client; nil gets a 10s-timeout client that
// refuses private addresses.
func NewPageFetcher(client *http.Client) *PageFetcher {
	if client == nil {
		client = safehttp.NewClient(10 * time.Second)
	}
	return &PageFetcher{client: client}
}

// Fetch downloads url and extracts its title, description and publish time.
func (f *PageFetcher) Fetch(ctx context.Context, url string) (*PageMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "phoenix-pipeline/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return extractMetadata(doc), nil
}

var publishedSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[name="date"]`,
	`meta[name="dc.date"]`,
	`meta[itemprop="datePublished"]`,
}

func extractMetadata(doc *goquery.Document) *PageMetadata {
	md := &PageMetadata{}

	md.Title = metaContent(doc, `meta[property="og:title"]`)
	if md.Title == "" {
		md.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	md.Description = metaContent(doc, `meta[name="description"]`)
	if md.Description == "" {
		md.Description = metaContent(doc, `meta[property="og:description"]`)
	}

	for _, sel := range publishedSelectors {
		if ts := parsePublished(metaContent(doc, sel)); ts != nil {
			md.PublishedAt = ts
			break
		}
	}
	if md.PublishedAt == nil {
		if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			md.PublishedAt = parsePublished(dt)
		}
	}
	return md
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

var publishedLayouts = []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"}

func parsePublished(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
