package ports

import (
	"context"
	"encoding/json"

	"github.com/polything/phoenix-template/internal/core/domain"
)

// GenerateRequest is the vendor-neutral input to a generation capability.
type GenerateRequest struct {
	RunID string
	Stage domain.StageName
	// Input is the stage's contract input document.
	Input json.RawMessage
	// Schema describes the expected JSON output shape in plain text.
	Schema string
	// Feedback carries corrective notes from a previous failed attempt.
	Feedback string
	// Model optionally overrides the capability's default model.
	Model string
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// GenerateResponse is the raw capability output.
type GenerateResponse struct {
	Output   json.RawMessage
	Model    string
	Provider string
	// QualityScore is set when the capability self-scores its output.
	QualityScore *float64
	Usage        Usage
}

// Generator is the narrow LLM capability the pipeline depends on. Errors
// should be *domain.CapabilityError; anything else is treated as permanent.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

func (f GeneratorFunc) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	return f(ctx, req)
}
