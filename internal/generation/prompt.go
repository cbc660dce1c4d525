// Package generation holds what the concrete generation capabilities share:
// prompt assembly and extraction of the JSON document from model text.
package generation

import (
	"encoding/json"
	"strings"

	"github.com/polything/phoenix-template/internal/core/ports"
)

// SystemPrompt instructs the model to act as one pipeline stage and answer
// with a single JSON document of the stage's shape.
func SystemPrompt(req *ports.GenerateRequest) string {
	var b strings.Builder
	b.WriteString("You are the ")
	b.WriteString(string(req.Stage))
	b.WriteString(" stage of a B2B content production pipeline.\n")
	b.WriteString("The user message is a JSON document with the client profile, the brief, upstream stage outputs and reusable knowledge.\n")
	b.WriteString("Respond with ONLY one JSON object, no prose and no code fences, with this shape:\n")
	b.WriteString(req.Schema)
	b.WriteString("\nYou may add a numeric \"quality_score\" (0-10) rating your own output.\n")
	b.WriteString("Never invent statistics; every number must come from a cited source.")
	return b.String()
}

// UserPrompt is the contract input, followed by corrective notes when a
// previous attempt failed.
func UserPrompt(req *ports.GenerateRequest) string {
	if req.Feedback == "" {
		return string(req.Input)
	}
	return string(req.Input) + "\n\nYour previous attempt was not accepted. Fix the following and answer again:\n" + req.Feedback
}

// ExtractJSON returns the JSON object embedded in model text. Markdown code
// fences and leading prose are dropped. Text without an object is returned
// as-is so schema validation can report it.
func ExtractJSON(text string) json.RawMessage {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start >= 0 && end > start && json.Valid([]byte(s[start:end+1])) {
		return json.RawMessage(s[start : end+1])
	}
	return json.RawMessage(s)
}

// SelfScore reads an optional top-level "quality_score" from the output.
func SelfScore(output json.RawMessage) *float64 {
	var doc struct {
		QualityScore *float64 `json:"quality_score"`
	}
	if err := json.Unmarshal(output, &doc); err != nil {
		return nil
	}
	return doc.QualityScore
}
