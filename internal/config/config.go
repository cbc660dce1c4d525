// Package config loads the pipeline daemon configuration from an optional
// YAML file and PHX_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/polything/phoenix-template/internal/contract"
	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/executor"
	"github.com/polything/phoenix-template/internal/feedback"
	"github.com/polything/phoenix-template/internal/gate"
	"github.com/polything/phoenix-template/internal/generation"
	"github.com/polything/phoenix-template/internal/orchestrator"
	"github.com/polything/phoenix-template/internal/research"
	"github.com/polything/phoenix-template/internal/server"
	"github.com/polything/phoenix-template/internal/storage"
	"github.com/polything/phoenix-template/internal/telemetry"
)

// DefaultFile is read when no explicit path is given. It may be absent.
const DefaultFile = "pipeline.yaml"

const envPrefix = "PHX_"

type Config struct {
	Server       server.Config       `koanf:"server"`
	Log          LogConfig           `koanf:"log"`
	Storage      storage.Config      `koanf:"storage"`
	Generation   GenerationConfig    `koanf:"generation"`
	Executor     executor.Config     `koanf:"executor"`
	Orchestrator orchestrator.Config `koanf:"orchestrator"`
	Gate         gate.Config         `koanf:"gate"`
	Research     ResearchConfig      `koanf:"research"`
	Feedback     feedback.Config     `koanf:"feedback"`
	Pricing      []PriceConfig       `koanf:"pricing"`
	Telemetry    telemetry.Config    `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// GenerationConfig configures the default provider inline. Additional
// named providers can be reached through routing rules on the model name.
type GenerationConfig struct {
	Provider string `koanf:"provider"` // openai, gemini
	APIKey   string `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	// StageModels overrides the model for individual stages.
	StageModels map[string]string        `koanf:"stage_models"`
	Providers   []ProviderConfig         `koanf:"providers"`
	Routing     []generation.RoutingRule `koanf:"routing"`
}

type ProviderConfig struct {
	Name    string `koanf:"name"`
	Type    string `koanf:"type"` // openai, gemini
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

type ResearchConfig struct {
	Weights        research.Weights `koanf:"weights"`
	FreshMonths    float64          `koanf:"fresh_months"`
	HalfLifeMonths float64          `koanf:"half_life_months"`
	// ReputationFile is a YAML list of domain tiers, reloaded on change.
	ReputationFile string `koanf:"reputation_file"`
	FetchMetadata  bool   `koanf:"fetch_metadata"`
}

// PriceConfig is a per-model price override. Model names contain dots, so
// prices are a list rather than a map keyed by model.
type PriceConfig struct {
	Model    string  `koanf:"model"`
	USDPer1K float64 `koanf:"usd_per_1k"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (DefaultFile when empty), then PHX_ environment
// variables, then fills defaults. Nested keys use a double underscore:
// PHX_EXECUTOR__MAX_ATTEMPTS sets executor.max_attempts. An explicit path
// must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Environment variables override the file
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Generation.APIKey = substituteEnvVars(cfg.Generation.APIKey)
	for i := range cfg.Generation.Providers {
		cfg.Generation.Providers[i].APIKey = substituteEnvVars(cfg.Generation.Providers[i].APIKey)
	}
	cfg.Storage.DSN = substituteEnvVars(cfg.Storage.DSN)

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	ex := executor.DefaultConfig()
	orch := orchestrator.DefaultConfig()
	gt := gate.DefaultConfig()
	fb := feedback.DefaultConfig()
	score := research.DefaultScoreConfig()
	srv := server.DefaultConfig()
	tel := telemetry.DefaultConfig()

	defaults := []struct {
		key string
		val any
	}{
		{"server.port", srv.Port},
		{"server.request_timeout", srv.RequestTimeout},
		{"log.level", "info"},
		{"log.format", "json"},
		{"storage.driver", "sqlite"},
		{"storage.dsn", "pipeline.db"},
		{"generation.provider", "openai"},
		{"executor.max_attempts", ex.MaxAttempts},
		{"executor.backoff_base", ex.BackoffBase},
		{"executor.backoff_max", ex.BackoffMax},
		{"executor.backoff_jitter", ex.BackoffJitter},
		{"executor.stage_timeout", ex.StageTimeout},
		{"executor.max_gate_rejections", ex.MaxGateRejections},
		{"executor.rate_limit_rps", 0.0},
		{"executor.cache_size", ex.CacheSize},
		{"executor.knowledge_limit", ex.KnowledgeLimit},
		{"orchestrator.workers", orch.Workers},
		{"orchestrator.queue_size", orch.QueueSize},
		{"gate.review_threshold", gt.ReviewThreshold},
		{"gate.min_sources_per_insight", gt.MinSourcesPerInsight},
		{"research.weights.domain", score.Weights.Domain},
		{"research.weights.recency", score.Weights.Recency},
		{"research.weights.corroboration", score.Weights.Corroboration},
		{"research.fresh_months", score.FreshMonths},
		{"research.half_life_months", score.HalfLifeMonths},
		{"feedback.target_engagement_rate", fb.TargetEngagementRate},
		{"feedback.learning_rate", fb.LearningRate},
		{"telemetry.service_name", tel.ServiceName},
		{"telemetry.sample_ratio", tel.SampleRatio},
	}
	for _, d := range defaults {
		if !k.Exists(d.key) {
			k.Set(d.key, d.val)
		}
	}
}

// Validate reports settings the daemon cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver))
	}
	if !knownProvider(c.Generation.Provider) {
		problems = append(problems, fmt.Sprintf("generation.provider %q is not one of openai, gemini", c.Generation.Provider))
	}
	if c.Generation.APIKey == "" {
		problems = append(problems, "generation.api_key is required")
	}
	names := map[string]bool{c.Generation.Provider: true}
	for i, p := range c.Generation.Providers {
		switch {
		case p.Name == "":
			problems = append(problems, fmt.Sprintf("generation.providers[%d]: name is required", i))
		case names[p.Name]:
			problems = append(problems, fmt.Sprintf("generation.providers[%d]: duplicate name %q", i, p.Name))
		}
		names[p.Name] = true
		if !knownProvider(p.Type) {
			problems = append(problems, fmt.Sprintf("generation.providers[%d]: type %q is not one of openai, gemini", i, p.Type))
		}
		if p.APIKey == "" {
			problems = append(problems, fmt.Sprintf("generation.providers[%d]: api_key is required", i))
		}
	}
	for i, rule := range c.Generation.Routing {
		if !names[rule.Provider] {
			problems = append(problems, fmt.Sprintf("generation.routing[%d]: unknown provider %q", i, rule.Provider))
		}
	}
	registry := contract.Default()
	for stage := range c.Generation.StageModels {
		if _, err := registry.ContractFor(domain.StageName(stage)); err != nil {
			problems = append(problems, fmt.Sprintf("generation.stage_models: unknown stage %q", stage))
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		problems = append(problems, "telemetry.sample_ratio must be within [0,1]")
	}
	if c.Executor.BackoffMax > 0 && c.Executor.BackoffBase > c.Executor.BackoffMax {
		problems = append(problems, "executor.backoff_base must not exceed executor.backoff_max")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// ExecutorConfig returns the executor settings with per-stage models applied.
func (c *Config) ExecutorConfig() executor.Config {
	ex := c.Executor
	if len(c.Generation.StageModels) > 0 {
		ex.StageModels = make(map[domain.StageName]string, len(c.Generation.StageModels))
		for stage, model := range c.Generation.StageModels {
			ex.StageModels[domain.StageName(stage)] = model
		}
	}
	return ex
}

// ScoreConfig returns the credibility formula parameters.
func (c *Config) ScoreConfig() research.ScoreConfig {
	return research.ScoreConfig{
		Weights:        c.Research.Weights,
		FreshMonths:    c.Research.FreshMonths,
		HalfLifeMonths: c.Research.HalfLifeMonths,
	}
}

// Prices returns the pricing overrides keyed by model.
func (c *Config) Prices() map[string]float64 {
	if len(c.Pricing) == 0 {
		return nil
	}
	out := make(map[string]float64, len(c.Pricing))
	for _, p := range c.Pricing {
		if p.Model != "" {
			out[p.Model] = p.USDPer1K
		}
	}
	return out
}

// ShutdownTimeout bounds graceful shutdown of the daemon.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Executor.StageTimeout > 0 {
		return c.Executor.StageTimeout + 5*time.Second
	}
	return 30 * time.Second
}

func knownProvider(t string) bool {
	return t == "openai" || t == "gemini"
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
