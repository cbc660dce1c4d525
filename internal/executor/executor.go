// Package executor runs one pipeline stage for one run against its
// contract: schema validation, quality gating, retry with backoff and
// cost/latency telemetry.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/polything/phoenix-template/internal/contract"
	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/gate"
	"github.com/polything/phoenix-template/internal/research"
	"github.com/polything/phoenix-template/internal/telemetry"
	"github.com/polything/phoenix-template/internal/tokens"
)

// Evaluator is the quality gate.
type Evaluator interface {
	Evaluate(ctx context.Context, in gate.Input) (gate.Decision, error)
}

// SourceRegistrar is the single writer of research sources.
type SourceRegistrar interface {
	RecordInsight(ctx context.Context, in research.Insight) ([]*domain.ResearchSource, error)
}

// KnowledgeReader retrieves knowledge entries for stage context.
type KnowledgeReader interface {
	ListKnowledge(ctx context.Context, opts ports.KnowledgeListOptions) ([]*domain.KnowledgeEntry, error)
}

// UsageRecorder is the single writer of knowledge usage counters.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ids []string) error
}

// Deps are the collaborators of an Executor. Registry, Gate and Clients
// are required.
type Deps struct {
	Registry  *contract.Registry
	Gate      Evaluator
	Clients   ports.ClientProvider
	Sources   SourceRegistrar
	Knowledge KnowledgeReader
	Usage     UsageRecorder
	Tokens    *tokens.Registry
	Pricing   *tokens.Pricing
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// Executor runs single stages. It is safe for concurrent use by many
// orchestrator workers.
type Executor struct {
	cfg       Config
	registry  *contract.Registry
	gate      Evaluator
	clients   ports.ClientProvider
	sources   SourceRegistrar
	knowledge KnowledgeReader
	usage     UsageRecorder
	tokens    *tokens.Registry
	pricing   *tokens.Pricing
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	limiter *rate.Limiter
	cache   *lru.Cache[string, *domain.StageResult]

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates an executor.
func New(cfg Config, deps Deps) (*Executor, error) {
	if deps.Registry == nil || deps.Gate == nil || deps.Clients == nil {
		return nil, fmt.Errorf("executor requires a registry, a gate and a client provider")
	}
	cfg = cfg.withDefaults()

	e := &Executor{
		cfg:       cfg,
		registry:  deps.Registry,
		gate:      deps.Gate,
		clients:   deps.Clients,
		sources:   deps.Sources,
		knowledge: deps.Knowledge,
		usage:     deps.Usage,
		tokens:    deps.Tokens,
		pricing:   deps.Pricing,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		tracer:    otel.Tracer("github.com/polything/phoenix-template/internal/executor"),
		now:       time.Now,
		sleep:     sleepContext,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tokens == nil {
		e.tokens = tokens.NewRegistry()
	}
	if e.pricing == nil {
		e.pricing = tokens.NewPricing(nil)
	}
	if cfg.RateLimitRPS > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, *domain.StageResult](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// attemptState carries what survives between attempts of one stage.
type attemptState struct {
	tel            domain.Telemetry
	// failures counts transient and schema failures, which share the
	// MaxAttempts budget. Gate rejections are capped on their own.
	failures       int
	schemaRetries  int
	gateRejections int
	feedback       string
}

// Execute runs stage for run using gen and returns a gated result. The
// result verdict is pass or needs_review; every failure is a
// *domain.StageError. Telemetry of every attempt is added to
// run.Telemetry; run.Results is left untouched.
func (e *Executor) Execute(ctx context.Context, run *domain.PipelineRun, stage domain.StageName, gen ports.Generator) (res *domain.StageResult, err error) {
	ctx, span := e.tracer.Start(ctx, "stage.execute", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("stage", string(stage)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("verdict", string(res.Verdict)))
		}
		span.End()
	}()

	c, err := e.registry.ContractFor(stage)
	if err != nil {
		return nil, &domain.StageError{Stage: stage, Kind: domain.KindContractNotFound, Err: err}
	}
	if missing := c.MissingPrecursors(run.Results); len(missing) > 0 {
		return nil, &domain.StageError{
			Stage: stage,
			Kind:  domain.KindPrecursorMissing,
			Err:   &domain.PrecursorMissingError{Stage: stage, Missing: missing},
		}
	}

	profile, err := e.profileFor(ctx, run)
	if err != nil {
		return nil, &domain.StageError{Stage: stage, Kind: domain.KindInternal, Err: fmt.Errorf("failed to load client profile: %w", err)}
	}
	input, knowledgeIDs, err := e.buildInput(ctx, c, run, profile)
	if err != nil {
		return nil, &domain.StageError{Stage: stage, Kind: domain.KindInternal, Err: err}
	}

	if res, ok := e.fromCache(ctx, c, run, profile, input); ok {
		return res, nil
	}

	st := &attemptState{}
	defer func() {
		run.Telemetry.Add(st.tel)
		e.metrics.RecordStage(ctx, string(stage), st.tel.CostUSD, st.tel.Tokens, st.tel.Attempts)
	}()

	for attempt := 1; ; attempt++ {
		res, err := e.attempt(ctx, c, run, profile, input, gen, st)
		if err == nil {
			res.Attempts = attempt
			res.CostUSD = st.tel.CostUSD
			res.Tokens = st.tel.Tokens
			res.Duration = st.tel.Duration
			if c.Cacheable && e.cache != nil && res.Verdict == domain.VerdictPass {
				e.cache.Add(cacheKey(stage, input), res.Clone())
			}
			e.recordUsage(ctx, res, knowledgeIDs)
			return res, nil
		}

		retry, kind := e.shouldRetry(err, st)
		if !retry {
			return nil, &domain.StageError{Stage: stage, Kind: kind, Attempts: attempt, Telemetry: st.tel, Err: err}
		}

		sleep := backoffSleep(e.cfg.BackoffBase, e.cfg.BackoffMax, e.cfg.BackoffJitter, attempt-1)
		e.logger.Warn("stage attempt failed, retrying",
			slog.String("run_id", run.ID),
			slog.String("stage", string(stage)),
			slog.Int("attempt", attempt),
			slog.String("kind", string(domain.Classify(err))),
			slog.Duration("backoff", sleep),
			slog.String("error", err.Error()))
		if serr := e.sleep(ctx, sleep); serr != nil {
			return nil, &domain.StageError{Stage: stage, Kind: domain.KindInternal, Attempts: attempt, Telemetry: st.tel, Err: serr}
		}
	}
}

// profileFor returns the profile captured at run creation. Runs stored
// without one fall back to the current profile.
func (e *Executor) profileFor(ctx context.Context, run *domain.PipelineRun) (*domain.ClientProfile, error) {
	if run.Profile != nil {
		return run.Profile, nil
	}
	return e.clients.GetProfile(ctx, run.ClientID)
}

// shouldRetry applies the retry policy to one failed attempt and returns
// the terminal kind when no retry is left.
func (e *Executor) shouldRetry(err error, st *attemptState) (bool, domain.ErrorKind) {
	switch {
	case errors.Is(err, context.Canceled):
		return false, domain.KindInternal
	case domain.IsSchemaViolation(err):
		st.failures++
		if st.schemaRetries < maxExtraRetries(e.cfg.MaxAttempts-1, err) && st.failures < e.cfg.MaxAttempts {
			st.schemaRetries++
			return true, ""
		}
		return false, domain.KindPermanent
	case domain.IsGateRejected(err):
		if st.gateRejections < e.cfg.MaxGateRejections {
			st.gateRejections++
			return true, ""
		}
		return false, domain.KindGateRejected
	case domain.IsTransient(err):
		st.failures++
		if st.failures < e.cfg.MaxAttempts {
			return true, ""
		}
		return false, domain.KindPermanent
	default:
		return false, domain.Classify(err)
	}
}

// attempt performs one generation call and gates its output.
func (e *Executor) attempt(ctx context.Context, c contract.StageContract, run *domain.PipelineRun, profile *domain.ClientProfile, input json.RawMessage, gen ports.Generator, st *attemptState) (*domain.StageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req := &ports.GenerateRequest{
		RunID:    run.ID,
		Stage:    c.Name,
		Input:    input,
		Schema:   c.Output.Describe(),
		Feedback: st.feedback,
		Model:    e.modelFor(c.Name, run.Brief),
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	start := e.now()
	resp, err := gen.Generate(callCtx, req)
	elapsed := e.now().Sub(start)
	cancel()

	st.tel.Attempts++
	st.tel.ModelCalls++
	st.tel.Duration += elapsed

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyCallErr(err)
	}
	e.account(req, resp, st)

	if v := c.Output.Validate(resp.Output); !v.OK() {
		st.feedback = "Your previous output did not match the required JSON shape: " +
			strings.Join(v.Problems, "; ") + ". Return only a JSON object of shape " + req.Schema + "."
		return nil, &domain.SchemaViolationError{Stage: c.Name, Problems: v.Problems}
	}

	res := &domain.StageResult{
		Stage:       c.Name,
		Payload:     resp.Output,
		Model:       resp.Model,
		Provider:    resp.Provider,
		CompletedAt: e.now().UTC(),
	}
	if res.Model == "" {
		res.Model = req.Model
	}

	citations, err := e.registerCitations(ctx, c.Name, run.ID, resp.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to record citations: %w", err)
	}
	res.Citations = citations

	if err := e.applyGate(ctx, c, run.ID, profile, resp.QualityScore, res); err != nil {
		return nil, err
	}
	if res.Verdict == domain.VerdictRejected {
		st.feedback = "Your previous output was rejected by review: " + strings.Join(res.Findings, "; ") + "."
		return nil, &domain.GateRejectedError{Stage: c.Name, Findings: res.Findings}
	}
	return res, nil
}

func (e *Executor) applyGate(ctx context.Context, c contract.StageContract, runID string, profile *domain.ClientProfile, selfScore *float64, res *domain.StageResult) error {
	d, err := e.gate.Evaluate(ctx, gate.Input{
		Contract:  c,
		RunID:     runID,
		Payload:   res.Payload,
		SelfScore: selfScore,
		Profile:   profile,
	})
	if err != nil {
		return fmt.Errorf("quality gate: %w", err)
	}
	res.QualityScore = d.Score
	res.Verdict = d.Verdict
	res.Findings = append(append([]string(nil), d.Violations...), d.Findings...)
	e.metrics.RecordVerdict(ctx, string(c.Name), string(d.Verdict))
	return nil
}

// fromCache serves cacheable stages from a prior passing result for an
// identical input. Research citations are re-recorded for this run so the
// source counters stay accurate.
func (e *Executor) fromCache(ctx context.Context, c contract.StageContract, run *domain.PipelineRun, profile *domain.ClientProfile, input json.RawMessage) (*domain.StageResult, bool) {
	if !c.Cacheable || e.cache == nil {
		return nil, false
	}
	cached, ok := e.cache.Get(cacheKey(c.Name, input))
	if !ok {
		return nil, false
	}

	res := cached.Clone()
	res.Cached = true
	res.CostUSD, res.Tokens, res.Duration, res.Attempts = 0, 0, 0, 0
	res.Review = nil
	res.CompletedAt = e.now().UTC()

	citations, err := e.registerCitations(ctx, c.Name, run.ID, res.Payload)
	if err != nil {
		e.logger.Warn("ignoring cached result", slog.String("run_id", run.ID), slog.String("error", err.Error()))
		return nil, false
	}
	res.Citations = citations
	if err := e.applyGate(ctx, c, run.ID, profile, &cached.QualityScore, res); err != nil || res.Verdict != domain.VerdictPass {
		return nil, false
	}

	e.logger.Info("stage served from cache",
		slog.String("run_id", run.ID),
		slog.String("stage", string(c.Name)))
	return res, true
}

func (e *Executor) recordUsage(ctx context.Context, res *domain.StageResult, ids []string) {
	if e.usage == nil || len(ids) == 0 || res.Verdict != domain.VerdictPass {
		return
	}
	if err := e.usage.RecordUsage(ctx, ids); err != nil {
		e.logger.Warn("failed to record knowledge usage", slog.String("error", err.Error()))
	}
}

func (e *Executor) modelFor(stage domain.StageName, brief domain.Brief) string {
	if brief.Model != "" {
		return brief.Model
	}
	return e.cfg.StageModels[stage]
}

// account adds token usage and cost. When the capability reports no usage
// the tokens are counted locally.
func (e *Executor) account(req *ports.GenerateRequest, resp *ports.GenerateResponse, st *attemptState) {
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	used := resp.Usage.Total()
	if used == 0 {
		used = e.tokens.CountText(model, string(req.Input)+req.Schema+req.Feedback) +
			e.tokens.CountText(model, string(resp.Output))
	}
	st.tel.Tokens += used
	st.tel.CostUSD += e.pricing.Cost(model, used)
}

// registerCitations routes research and fact-check citations to the
// source registrar and returns the cited URLs.
func (e *Executor) registerCitations(ctx context.Context, stage domain.StageName, runID string, payload json.RawMessage) ([]string, error) {
	switch stage {
	case domain.StageResearch:
		var out contract.ResearchOutput
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, nil
		}
		var urls []string
		for _, insight := range out.Insights {
			if e.sources != nil {
				if _, err := e.sources.RecordInsight(ctx, research.Insight{
					RunID: runID,
					ID:    insight.ID,
					Claim: insight.Claim,
					URLs:  insight.Sources,
				}); err != nil {
					return nil, err
				}
			}
			urls = appendNormalized(urls, insight.Sources...)
		}
		return urls, nil
	case domain.StageFactCheck:
		var out contract.FactCheckOutput
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, nil
		}
		var urls []string
		for _, claim := range out.Claims {
			if claim.Citation != "" {
				urls = appendNormalized(urls, claim.Citation)
			}
		}
		return urls, nil
	default:
		return nil, nil
	}
}

func appendNormalized(dst []string, raw ...string) []string {
	for _, r := range raw {
		key, err := research.NormalizeURL(r)
		if err != nil {
			continue
		}
		dup := false
		for _, d := range dst {
			if d == key {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, key)
		}
	}
	return dst
}
