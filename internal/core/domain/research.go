package domain

import "time"

// ResearchSource is a URL-keyed research record shared across runs and
// clients. Its credibility score is always derived, never hand-edited.
type ResearchSource struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
	// Tier is the domain reputation tier (1 best, 0 unknown).
	Tier             int        `json:"tier"`
	Authoritative    bool       `json:"authoritative"`
	Title            string     `json:"title,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	Insights         []string   `json:"insights,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	CredibilityScore float64    `json:"credibility_score"`
	// CorroborationCount is the number of distinct runs beyond the first
	// that cited this source.
	CorroborationCount int       `json:"corroboration_count"`
	TimesReferenced    int       `json:"times_referenced"`
	FirstSeenAt        time.Time `json:"first_seen_at"`
	LastReferencedAt   time.Time `json:"last_referenced_at"`
}

// Clone returns a deep copy of the source.
func (s *ResearchSource) Clone() *ResearchSource {
	if s == nil {
		return nil
	}
	c := *s
	if s.Insights != nil {
		c.Insights = append([]string(nil), s.Insights...)
	}
	if s.PublishedAt != nil {
		t := *s.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

// Citation links one research insight of one run to a source URL.
type Citation struct {
	InsightID string `json:"insight_id"`
	RunID     string `json:"run_id"`
	URL       string `json:"url"`
}
