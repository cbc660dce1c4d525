// Package gemini is the generation capability backed by the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/generation"
)

const (
	providerName = "gemini"
	defaultModel = "gemini-2.0-flash"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL    string
	HTTPClient *http.Client
}

// Generator implements ports.Generator with JSON-mode content generation.
type Generator struct {
	client *genai.Client
	model  string
}

var _ ports.Generator = (*Generator)(nil)

func New(ctx context.Context, cfg Config) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:     strings.TrimSpace(cfg.APIKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Generator{client: client, model: model}, nil
}

func (g *Generator) Generate(ctx context.Context, req *ports.GenerateRequest) (*ports.GenerateResponse, error) {
	model := g.model
	if req.Model != "" {
		model = req.Model
	}

	resp, err := g.client.Models.GenerateContent(
		ctx,
		model,
		genai.Text(generation.UserPrompt(req)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(generation.SystemPrompt(req), genai.RoleUser),
			CandidateCount:    1,
			Temperature:       genai.Ptr[float32](0.4),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return nil, classifyErr(err)
	}
	if len(resp.Candidates) == 0 {
		return nil, domain.Transient(fmt.Errorf("gemini: response has no candidates"))
	}
	if fr := resp.Candidates[0].FinishReason; fr == genai.FinishReasonSafety || fr == genai.FinishReasonProhibitedContent {
		return nil, domain.Permanent(fmt.Errorf("gemini: output blocked (%s)", fr))
	}

	output := generation.ExtractJSON(resp.Text())
	out := &ports.GenerateResponse{
		Output:       output,
		Model:        model,
		Provider:     providerName,
		QualityScore: generation.SelfScore(output),
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = ports.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
		}
	}
	return out, nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code/100 == 5 {
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
