package contract

import "github.com/polything/phoenix-template/internal/core/domain"

func str(name string, required bool) Field {
	return Field{Name: name, Type: TypeString, Required: required}
}

func list(name string, required bool, item ...Field) Field {
	return Field{Name: name, Type: TypeArray, Required: required, Fields: item}
}

// ResearchInsight is the element shape of the research stage's insights.
type ResearchInsight struct {
	ID      string   `json:"id"`
	Claim   string   `json:"claim"`
	Sources []string `json:"sources"`
}

// ResearchOutput is the research stage payload.
type ResearchOutput struct {
	Insights []ResearchInsight `json:"insights"`
	Summary  string            `json:"summary,omitempty"`
}

// FactCheckClaim is one claim reviewed by the fact-check stage.
type FactCheckClaim struct {
	Text     string `json:"text"`
	Citation string `json:"citation,omitempty"`
	Guarded  bool   `json:"guarded,omitempty"`
}

// FactCheckOutput is the fact_check stage payload.
type FactCheckOutput struct {
	Claims []FactCheckClaim `json:"claims"`
	Body   string           `json:"body"`
}

// Default returns the content pipeline's stage table:
//
//	intake_brief → research → synthesis → resourcing → angle_matrix →
//	backlog → outline → draft → voice_transfer → fact_check → compliance →
//	(seo) → packaging → scheduling_meta
func Default() *Registry {
	return MustRegistry(
		StageContract{
			Name:    domain.StageIntakeBrief,
			Purpose: "Turn the client intake and request into a structured content brief.",
			Gate:    GateAuto,
			Output: Schema{Fields: []Field{
				str("summary", true),
				list("goals", true),
				str("audience", true),
				list("key_messages", false),
			}},
		},
		StageContract{
			Name:      domain.StageResearch,
			Requires:  []domain.StageName{domain.StageIntakeBrief},
			Purpose:   "Gather insights for the brief, each backed by at least three distinct source URLs.",
			Gate:      GateAuto,
			Cacheable: true,
			Output: Schema{Fields: []Field{
				list("insights", true, str("id", true), str("claim", true), list("sources", true)),
				str("summary", false),
			}},
		},
		StageContract{
			Name:     domain.StageSynthesis,
			Requires: []domain.StageName{domain.StageResearch},
			Purpose:  "Synthesize research into themes and objection rebuttals.",
			Gate:     GateReviewOnLowScore,
			Output: Schema{Fields: []Field{
				list("themes", true),
				list("objections", false, str("objection", true), str("rebuttal", true)),
				str("summary", true),
			}},
		},
		StageContract{
			Name:      domain.StageResourcing,
			Requires:  []domain.StageName{domain.StageSynthesis},
			Purpose:   "Select proof points and supporting assets for the themes.",
			Gate:      GateAuto,
			Cacheable: true,
			Output: Schema{Fields: []Field{
				list("proof_points", true),
				list("assets", false),
			}},
		},
		StageContract{
			Name:     domain.StageAngleMatrix,
			Requires: []domain.StageName{domain.StageSynthesis, domain.StageResourcing},
			Purpose:  "Generate content angles with hooks.",
			Gate:     GateReviewOnLowScore,
			Output: Schema{Fields: []Field{
				list("angles", true, str("hook", true), str("angle", true), Field{Name: "score", Type: TypeNumber}),
			}},
		},
		StageContract{
			Name:     domain.StageBacklog,
			Requires: []domain.StageName{domain.StageAngleMatrix},
			Purpose:  "Turn angles into a prioritized content backlog.",
			Gate:     GateAuto,
			Output: Schema{Fields: []Field{
				list("items", true, str("id", true), str("title", true), str("angle", false), str("platform", false)),
			}},
		},
		StageContract{
			Name:     domain.StageOutline,
			Requires: []domain.StageName{domain.StageBacklog},
			Purpose:  "Outline the top backlog item.",
			Gate:     GateReviewOnLowScore,
			Output: Schema{Fields: []Field{
				str("title", true),
				list("sections", true),
			}},
		},
		StageContract{
			Name:     domain.StageDraft,
			Requires: []domain.StageName{domain.StageOutline},
			Purpose:  "Write the full draft from the outline.",
			Gate:     GateReviewOnLowScore,
			Output: Schema{Fields: []Field{
				str("title", true),
				str("body", true),
			}},
		},
		StageContract{
			Name:     domain.StageVoiceTransfer,
			Requires: []domain.StageName{domain.StageDraft},
			Purpose:  "Rewrite the draft in the client's voice using the voice examples.",
			Gate:     GateReviewOnLowScore,
			Output: Schema{Fields: []Field{
				str("body", true),
				list("voice_notes", false),
			}},
		},
		StageContract{
			Name:     domain.StageFactCheck,
			Requires: []domain.StageName{domain.StageVoiceTransfer, domain.StageResearch},
			Purpose:  "Check every claim; numeric claims need a citation or guarded wording.",
			Gate:     GateAuto,
			Output: Schema{Fields: []Field{
				list("claims", true, str("text", true), str("citation", false), Field{Name: "guarded", Type: TypeBoolean}),
				str("body", true),
			}},
		},
		StageContract{
			Name:     domain.StageCompliance,
			Requires: []domain.StageName{domain.StageFactCheck},
			Purpose:  "Review the content against the client's constraints and compliance region.",
			Gate:     GateAlwaysReview,
			Output: Schema{Fields: []Field{
				str("body", true),
				list("issues", false),
			}},
		},
		StageContract{
			Name:     domain.StageSEO,
			Requires: []domain.StageName{domain.StageCompliance},
			Purpose:  "Propose keywords and a meta description.",
			Gate:     GateReviewOnLowScore,
			Optional: true,
			Output: Schema{Fields: []Field{
				list("keywords", true),
				str("meta_description", true),
			}},
		},
		StageContract{
			Name:     domain.StagePackaging,
			Requires: []domain.StageName{domain.StageCompliance},
			Purpose:  "Package the approved content per platform.",
			Gate:     GateAlwaysReview,
			Output: Schema{Fields: []Field{
				list("items", true, str("id", true), str("platform", true), str("content", true)),
			}},
		},
		StageContract{
			Name:     domain.StageSchedulingMeta,
			Requires: []domain.StageName{domain.StagePackaging},
			Purpose:  "Attach publishing schedule metadata to each packaged item.",
			Gate:     GateAuto,
			Output: Schema{Fields: []Field{
				list("schedule", true, str("item_id", true), str("publish_at", true), str("platform", false)),
			}},
		},
	)
}
