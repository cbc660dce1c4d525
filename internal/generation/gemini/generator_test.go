package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/genai"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
)

type tempNetErr struct{}

func (tempNetErr) Error() string   { return "temp net err" }
func (tempNetErr) Timeout() bool   { return false }
func (tempNetErr) Temporary() bool { return true }

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name          string
		in            error
		wantTransient bool
		wantCapErr    bool
	}{
		{name: "api_429", in: genai.APIError{Code: 429}, wantTransient: true, wantCapErr: true},
		{name: "api_503", in: genai.APIError{Code: 503}, wantTransient: true, wantCapErr: true},
		{name: "api_400", in: genai.APIError{Code: 400}, wantCapErr: true},
		{name: "net", in: tempNetErr{}, wantTransient: true, wantCapErr: true},
		{name: "other", in: errors.New("boom"), wantCapErr: true},
		{name: "deadline", in: context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyErr(tt.in)
			var ce *domain.CapabilityError
			if isCap := errors.As(got, &ce); isCap != tt.wantCapErr {
				t.Fatalf("capability error = %v, want %v (%T %v)", isCap, tt.wantCapErr, got, got)
			}
			if domain.IsTransient(got) != tt.wantTransient {
				t.Errorf("transient = %v, want %v", domain.IsTransient(got), tt.wantTransient)
			}
		})
	}
	if classifyErr(nil) != nil {
		t.Error("classifyErr(nil) != nil")
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("expected error without api key")
	}
}

func TestGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": "```json\n{\"body\":\"b\",\"issues\":[],\"quality_score\":7.5}\n```"}},
				},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 120, "candidatesTokenCount": 30},
			"modelVersion":  "gemini-2.0-flash-001",
		})
	}))
	defer srv.Close()

	g, err := New(context.Background(), Config{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := g.Generate(context.Background(), &ports.GenerateRequest{
		Stage: domain.StageCompliance,
		Input: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if string(resp.Output) != `{"body":"b","issues":[],"quality_score":7.5}` {
		t.Errorf("output = %s", resp.Output)
	}
	if resp.QualityScore == nil || *resp.QualityScore != 7.5 {
		t.Errorf("quality score = %v", resp.QualityScore)
	}
	if resp.Usage.Total() != 150 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Model != "gemini-2.0-flash-001" || resp.Provider != "gemini" {
		t.Errorf("model/provider = %s/%s", resp.Model, resp.Provider)
	}
}
