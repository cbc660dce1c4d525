// Package openai is the generation capability for OpenAI and
// OpenAI-compatible chat completion APIs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/generation"
)

const (
	providerName = "openai"
	defaultModel = "gpt-4o-mini"
)

// Generator implements ports.Generator over the chat completions API in
// JSON mode.
type Generator struct {
	client      *Client
	model       string
	temperature float32
}

var _ ports.Generator = (*Generator)(nil)

// New creates a generator. An empty model selects gpt-4o-mini.
func New(apiKey, model string, opts ...ClientOption) *Generator {
	if model == "" {
		model = defaultModel
	}
	return &Generator{
		client:      NewClient(apiKey, opts...),
		model:       model,
		temperature: 0.4,
	}
}

func (g *Generator) Generate(ctx context.Context, req *ports.GenerateRequest) (*ports.GenerateResponse, error) {
	model := g.model
	if req.Model != "" {
		model = req.Model
	}
	temp := g.temperature

	resp, err := g.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: generation.SystemPrompt(req)},
			{Role: "user", Content: generation.UserPrompt(req)},
		},
		Temperature:    &temp,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, classifyErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.Transient(fmt.Errorf("openai: response %s has no choices", resp.ID))
	}
	if resp.Choices[0].FinishReason == "content_filter" {
		return nil, domain.Permanent(fmt.Errorf("openai: output blocked by content filter"))
	}

	output := generation.ExtractJSON(resp.Choices[0].Message.Content)
	served := resp.Model
	if served == "" {
		served = model
	}
	return &ports.GenerateResponse{
		Output:       output,
		Model:        served,
		Provider:     providerName,
		QualityScore: generation.SelfScore(output),
		Usage: ports.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// classifyErr marks rate limits, server errors and network failures as
// transient; other API errors are permanent.
func classifyErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode/100 == 5 {
			return domain.Transient(err)
		}
		return domain.Permanent(err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return domain.Transient(err)
	}
	return domain.Permanent(err)
}
