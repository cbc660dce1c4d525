package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/testutil"
)

func TestGenerator_Generate(t *testing.T) {
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("VCR_MODE") == "record" {
		t.Skip("Skipping test: OPENAI_API_KEY not set")
	}

	recorder, cleanup := testutil.NewVCRRecorder(t, "openai_generate")
	defer cleanup()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = "test-key"
	}

	g := New(apiKey, "", WithHTTPClient(testutil.VCRHTTPClient(recorder)))
	resp, err := g.Generate(context.Background(), &ports.GenerateRequest{
		RunID:  "run-1",
		Stage:  domain.StageIntakeBrief,
		Input:  json.RawMessage(`{"stage":"intake_brief"}`),
		Schema: `{"summary": string, "goals": array, "audience": string, "key_messages": array?}`,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var out struct {
		Summary  string   `json:"summary"`
		Goals    []string `json:"goals"`
		Audience string   `json:"audience"`
	}
	if err := json.Unmarshal(resp.Output, &out); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if out.Summary == "" || len(out.Goals) == 0 || out.Audience == "" {
		t.Errorf("output = %+v", out)
	}
	if resp.Provider != "openai" || !strings.HasPrefix(resp.Model, "gpt-4o-mini") {
		t.Errorf("provider/model = %s/%s", resp.Provider, resp.Model)
	}
	if resp.Usage.Total() != 470 {
		t.Errorf("usage = %+v, want 470 total", resp.Usage)
	}
	if resp.QualityScore == nil || *resp.QualityScore != 8 {
		t.Errorf("quality score = %v, want 8", resp.QualityScore)
	}
}

func TestGenerator_RequestShape(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer k" {
			t.Errorf("authorization = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"{\"body\":\"b\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	g := New("k", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	_, err := g.Generate(context.Background(), &ports.GenerateRequest{
		Stage:    domain.StageCompliance,
		Input:    json.RawMessage(`{}`),
		Feedback: "body is required",
		Model:    "gpt-4",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got.Model != "gpt-4" {
		t.Errorf("model = %s, want per-request override gpt-4", got.Model)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("response format = %+v", got.ResponseFormat)
	}
	if len(got.Messages) != 2 || !strings.Contains(got.Messages[1].Content, "body is required") {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestGenerator_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests"}}`, true},
		{"server error", http.StatusBadGateway, `upstream down`, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, false},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"model not found"}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := New("k", "", WithBaseURL(srv.URL))
			_, err := g.Generate(context.Background(), &ports.GenerateRequest{Stage: domain.StageDraft, Input: json.RawMessage(`{}`)})
			if err == nil {
				t.Fatal("expected error")
			}
			var ce *domain.CapabilityError
			if !errors.As(err, &ce) {
				t.Fatalf("error %T is not a capability error", err)
			}
			if ce.Transient != tt.wantTransient {
				t.Errorf("transient = %v, want %v (%v)", ce.Transient, tt.wantTransient, err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
				t.Errorf("api error = %+v", apiErr)
			}
		})
	}
}

func TestGenerator_NoChoicesIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	g := New("k", "", WithBaseURL(srv.URL))
	_, err := g.Generate(context.Background(), &ports.GenerateRequest{Stage: domain.StageDraft, Input: json.RawMessage(`{}`)})
	if !domain.IsTransient(err) {
		t.Errorf("error = %v, want transient", err)
	}
}

func TestGenerator_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	g := New("k", "", WithBaseURL(url))
	_, err := g.Generate(context.Background(), &ports.GenerateRequest{Stage: domain.StageDraft, Input: json.RawMessage(`{}`)})
	if !domain.IsTransient(err) {
		t.Errorf("error = %v, want transient", err)
	}
}
