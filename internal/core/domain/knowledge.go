package domain

import "time"

// KnowledgeType tags what a knowledge entry captures.
type KnowledgeType string

const (
	KnowledgeHook     KnowledgeType = "hook"
	KnowledgeRebuttal KnowledgeType = "rebuttal"
	KnowledgeVoice    KnowledgeType = "voice"
)

// KnowledgeEntry is a learned pattern retrieved as context by later runs.
// An empty ClientID marks a global entry.
type KnowledgeEntry struct {
	ID           string        `json:"id"`
	ClientID     string        `json:"client_id,omitempty"`
	Type         KnowledgeType `json:"type"`
	Title        string        `json:"title"`
	Body         string        `json:"body"`
	SuccessScore float64       `json:"success_score"`
	UsageCount   int           `json:"usage_count"`
	SourceRunID  string        `json:"source_run_id,omitempty"`
	SourceStage  StageName     `json:"source_stage,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// PerformanceMetrics is post-publication analytics for one piece of content.
type PerformanceMetrics struct {
	Impressions int `json:"impressions"`
	Engagements int `json:"engagements"`
	Clicks      int `json:"clicks"`
	Conversions int `json:"conversions"`
}

// EngagementRate is engagements plus clicks per impression.
func (m PerformanceMetrics) EngagementRate() float64 {
	if m.Impressions <= 0 {
		return 0
	}
	return float64(m.Engagements+m.Clicks) / float64(m.Impressions)
}
