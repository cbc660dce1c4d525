package research

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL returns the dedup key for a source URL: lowercase scheme and
// host, no fragment, no trailing slash on the path.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid source url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid source url %q: scheme and host are required", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// Domain returns the host of a normalized URL without a leading "www.".
func Domain(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// InsightKey scopes an insight id emitted by the research stage to the run
// that produced it.
func InsightKey(runID, insightID string) string {
	return runID + "/" + insightID
}
