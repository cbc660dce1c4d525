package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/polything/phoenix-template/internal/config"
	"github.com/polything/phoenix-template/internal/contract"
	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/executor"
	"github.com/polything/phoenix-template/internal/feedback"
	"github.com/polything/phoenix-template/internal/gate"
	"github.com/polything/phoenix-template/internal/generation"
	"github.com/polything/phoenix-template/internal/generation/gemini"
	"github.com/polything/phoenix-template/internal/generation/openai"
	"github.com/polything/phoenix-template/internal/orchestrator"
	"github.com/polything/phoenix-template/internal/research"
	"github.com/polything/phoenix-template/internal/server"
	"github.com/polything/phoenix-template/internal/storage"
	"github.com/polything/phoenix-template/internal/telemetry"
	"github.com/polything/phoenix-template/internal/tokens"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default "+config.DefaultFile+" if present)")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Telemetry, logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	cacheOpts := []research.Option{
		research.WithScoreConfig(cfg.ScoreConfig()),
		research.WithLogger(logger),
	}
	if path := cfg.Research.ReputationFile; path != "" {
		reputation, err := research.LoadReputation(path)
		if err != nil {
			log.Fatalf("Failed to load reputation file: %v", err)
		}
		if err := reputation.Watch(ctx, path); err != nil {
			logger.Warn("reputation hot reload disabled", slog.String("error", err.Error()))
		}
		cacheOpts = append(cacheOpts, research.WithReputation(reputation))
	}
	if cfg.Research.FetchMetadata {
		cacheOpts = append(cacheOpts, research.WithFetcher(research.NewPageFetcher(nil)))
	}
	sources := research.NewCache(store, cacheOpts...)

	generator, err := newGenerator(ctx, cfg.Generation)
	if err != nil {
		log.Fatalf("Failed to create generator: %v", err)
	}

	registry := contract.Default()
	knowledge := feedback.New(cfg.Feedback, store, logger)

	exec, err := executor.New(cfg.ExecutorConfig(), executor.Deps{
		Registry:  registry,
		Gate:      gate.New(cfg.Gate, sources, logger),
		Clients:   store,
		Sources:   sources,
		Knowledge: store,
		Usage:     knowledge,
		Tokens:    tokens.NewRegistry(),
		Pricing:   tokens.NewPricing(cfg.Prices()),
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("Failed to create executor: %v", err)
	}

	orch, err := orchestrator.New(cfg.Orchestrator, orchestrator.Deps{
		Registry:  registry,
		Runs:      store,
		Clients:   store,
		Executor:  exec,
		Generator: generator,
		Feedback:  knowledge,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}

	srv := server.New(cfg.Server, logger, &server.API{
		Runs:      orch,
		Clients:   store,
		Knowledge: knowledge,
		Sources:   sources,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("pipeline started",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("provider", cfg.Generation.Provider),
		slog.Int("workers", cfg.Orchestrator.Workers))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping pipeline")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown: stop intake first, then let workers park their runs.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()

	exitCode := 0
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
		exitCode = 1
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", slog.String("error", err.Error()))
		exitCode = 1
	}
	cancel()

	logger.Info("pipeline shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newGenerator builds the default provider plus any named providers and
// routes between them on the requested model.
func newGenerator(ctx context.Context, cfg config.GenerationConfig) (ports.Generator, error) {
	providers := make(map[string]ports.Generator, len(cfg.Providers)+1)
	def, err := newProvider(ctx, config.ProviderConfig{
		Name:    cfg.Provider,
		Type:    cfg.Provider,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, err
	}
	providers[cfg.Provider] = def

	for _, p := range cfg.Providers {
		gen, err := newProvider(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		providers[p.Name] = gen
	}
	return generation.NewRouter(providers, cfg.Routing, cfg.Provider)
}

func newProvider(ctx context.Context, p config.ProviderConfig) (ports.Generator, error) {
	switch p.Type {
	case "openai":
		var opts []openai.ClientOption
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(p.APIKey, p.Model, opts...), nil
	case "gemini":
		return gemini.New(ctx, gemini.Config{
			APIKey:  p.APIKey,
			Model:   p.Model,
			BaseURL: p.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown generation provider %q", p.Type)
	}
}
