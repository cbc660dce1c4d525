package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/generation"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Generation.Provider != "openai" {
		t.Errorf("Storage.Driver = %q, Generation.Provider = %q", cfg.Storage.Driver, cfg.Generation.Provider)
	}
	if cfg.Executor.MaxAttempts != 3 || cfg.Executor.BackoffBase != 2*time.Second || cfg.Executor.BackoffMax != 30*time.Second {
		t.Errorf("Executor = %+v", cfg.Executor)
	}
	if cfg.Executor.StageTimeout != 45*time.Second || cfg.Executor.MaxGateRejections != 2 || cfg.Executor.CacheSize != 256 {
		t.Errorf("Executor = %+v", cfg.Executor)
	}
	if cfg.Orchestrator.Workers != 4 || cfg.Orchestrator.QueueSize != 128 {
		t.Errorf("Orchestrator = %+v", cfg.Orchestrator)
	}
	if cfg.Gate.ReviewThreshold != 7.0 || cfg.Gate.MinSourcesPerInsight != 3 {
		t.Errorf("Gate = %+v", cfg.Gate)
	}
	w := cfg.Research.Weights
	if w.Domain != 0.5 || w.Recency != 0.3 || w.Corroboration != 0.2 {
		t.Errorf("Research.Weights = %+v", w)
	}
	if cfg.Research.FreshMonths != 18 || cfg.Research.HalfLifeMonths != 12 {
		t.Errorf("Research = %+v", cfg.Research)
	}
	if cfg.Feedback.TargetEngagementRate != 0.02 || cfg.Feedback.LearningRate != 0.1 {
		t.Errorf("Feedback = %+v", cfg.Feedback)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9100
storage:
  driver: postgres
  dsn: postgres://pipeline:${TEST_DB_PASSWORD}@db/pipeline
generation:
  provider: gemini
  api_key: ${TEST_GEN_KEY}
  stage_models:
    draft: gpt-4o
  providers:
    - name: openai
      type: openai
      api_key: ${TEST_GEN_KEY}
  routing:
    - model_prefix: gpt-
      provider: openai
executor:
  backoff_base: 500ms
  max_attempts: 5
pricing:
  - model: gemini-2.5-pro
    usd_per_1k: 0.005
`)
	t.Setenv("TEST_GEN_KEY", "secret-key")
	t.Setenv("TEST_DB_PASSWORD", "hunter2")
	t.Setenv("PHX_EXECUTOR__MAX_ATTEMPTS", "7")
	t.Setenv("PHX_ORCHESTRATOR__WORKERS", "8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Generation.APIKey != "secret-key" {
		t.Errorf("APIKey = %q, want substituted value", cfg.Generation.APIKey)
	}
	if !strings.Contains(cfg.Storage.DSN, "hunter2") {
		t.Errorf("DSN = %q, want substituted password", cfg.Storage.DSN)
	}
	if cfg.Executor.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want env override 7", cfg.Executor.MaxAttempts)
	}
	if cfg.Executor.BackoffBase != 500*time.Millisecond {
		t.Errorf("BackoffBase = %v, want 500ms", cfg.Executor.BackoffBase)
	}
	if cfg.Orchestrator.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Orchestrator.Workers)
	}

	ex := cfg.ExecutorConfig()
	if ex.StageModels[domain.StageDraft] != "gpt-4o" {
		t.Errorf("StageModels = %v", ex.StageModels)
	}
	if got := cfg.Prices()["gemini-2.5-pro"]; got != 0.005 {
		t.Errorf("Prices()[gemini-2.5-pro] = %v", got)
	}
	if len(cfg.Generation.Providers) != 1 || cfg.Generation.Providers[0].APIKey != "secret-key" {
		t.Errorf("Providers = %+v", cfg.Generation.Providers)
	}
	if len(cfg.Generation.Routing) != 1 || cfg.Generation.Routing[0].ModelPrefix != "gpt-" {
		t.Errorf("Routing = %+v", cfg.Generation.Routing)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Helper()
		t.Chdir(t.TempDir())
		cfg, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		cfg.Generation.APIKey = "key"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing key", func(c *Config) { c.Generation.APIKey = "" }, "api_key"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"bad provider", func(c *Config) { c.Generation.Provider = "anthropic" }, "generation.provider"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown stage model", func(c *Config) {
			c.Generation.StageModels = map[string]string{"drafting": "gpt-4o"}
		}, "unknown stage"},
		{"routing to unknown provider", func(c *Config) {
			c.Generation.Routing = []generation.RoutingRule{{ModelPrefix: "claude-", Provider: "anthropic"}}
		}, "generation.routing[0]"},
		{"duplicate provider name", func(c *Config) {
			c.Generation.Providers = []ProviderConfig{{Name: "openai", Type: "openai", APIKey: "k"}}
		}, "duplicate name"},
		{"provider without key", func(c *Config) {
			c.Generation.Providers = []ProviderConfig{{Name: "g", Type: "gemini"}}
		}, "api_key is required"},
		{"sample ratio out of range", func(c *Config) {
			c.Telemetry.SampleRatio = 2
		}, "sample_ratio"},
		{"backoff inverted", func(c *Config) {
			c.Executor.BackoffBase = time.Minute
		}, "backoff_base"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "${TEST_VAR}",
			want:  "test-value",
		},
		{
			name:  "substitution in string",
			input: "prefix-${TEST_VAR}-suffix",
			want:  "prefix-test-value-suffix",
		},
		{
			name:  "no substitution",
			input: "plain-string",
			want:  "plain-string",
		},
		{
			name:  "undefined var",
			input: "${UNDEFINED_VAR}",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars() = %v, want %v", got, tt.want)
			}
		})
	}
}
