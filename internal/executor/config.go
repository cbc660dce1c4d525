package executor

import (
	"time"

	"github.com/polything/phoenix-template/internal/core/domain"
)

// Config controls retries, timeouts and throughput of stage execution.
type Config struct {
	// MaxAttempts bounds generation attempts on transient and schema failures.
	MaxAttempts int `koanf:"max_attempts"`
	// BackoffBase is the sleep before the first retry; it doubles per
	// retry up to BackoffMax.
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffMax  time.Duration `koanf:"backoff_max"`
	// BackoffJitter applies +/- jitter to backoff sleeps (0.1 = +/-10%).
	BackoffJitter float64 `koanf:"backoff_jitter"`
	// StageTimeout bounds one generation call. A timeout is transient.
	StageTimeout time.Duration `koanf:"stage_timeout"`
	// MaxGateRejections is how many gate-rejected attempts are retried
	// before the stage fails.
	MaxGateRejections int `koanf:"max_gate_rejections"`
	// RateLimitRPS is a global limit on generation calls. <=0 disables it.
	RateLimitRPS float64 `koanf:"rate_limit_rps"`
	// CacheSize bounds the cacheable-stage result cache. <=0 disables it.
	CacheSize int `koanf:"cache_size"`
	// StageModels overrides the generation model per stage.
	StageModels map[domain.StageName]string `koanf:"-"`
	// KnowledgeLimit bounds knowledge entries handed to a stage.
	KnowledgeLimit int `koanf:"knowledge_limit"`
}

// DefaultConfig returns the stock retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMax:        30 * time.Second,
		BackoffJitter:     0.1,
		StageTimeout:      45 * time.Second,
		MaxGateRejections: 2,
		CacheSize:         256,
		KnowledgeLimit:    10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.BackoffJitter < 0 {
		c.BackoffJitter = 0
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = d.StageTimeout
	}
	if c.MaxGateRejections < 0 {
		c.MaxGateRejections = 0
	}
	if c.KnowledgeLimit <= 0 {
		c.KnowledgeLimit = d.KnowledgeLimit
	}
	return c
}
