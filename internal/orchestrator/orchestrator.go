// Package orchestrator drives pipeline runs through the stage state
// machine.
//
// A run moves pending → running → completed | failed | cancelled. While
// running, the next stage is always recomputed from the persisted results,
// so a restarted process resumes where it stopped and never re-executes a
// passed stage. A needs_review verdict pauses the run (status stays
// running) until Approve or Reject. Runs execute in parallel on a bounded
// worker pool; stages of one run execute strictly in order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/polything/phoenix-template/internal/contract"
	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/telemetry"
)

// StageRunner executes one stage for one run.
type StageRunner interface {
	Execute(ctx context.Context, run *domain.PipelineRun, stage domain.StageName, gen ports.Generator) (*domain.StageResult, error)
}

// CompletionHook is invoked asynchronously once a run completes.
type CompletionHook interface {
	OnRunCompleted(ctx context.Context, run *domain.PipelineRun) ([]*domain.KnowledgeEntry, error)
}

// Config sizes the worker pool.
type Config struct {
	Workers   int `koanf:"workers"`
	QueueSize int `koanf:"queue_size"`
}

// DefaultConfig returns the stock pool size.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 128}
}

// Deps are the collaborators of an Orchestrator. Feedback and Metrics are
// optional.
type Deps struct {
	Registry  *contract.Registry
	Runs      ports.RunStore
	Clients   ports.ClientProvider
	Executor  StageRunner
	Generator ports.Generator
	Feedback  CompletionHook
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// Orchestrator is the sole writer of run state.
type Orchestrator struct {
	cfg       Config
	registry  *contract.Registry
	runs      ports.RunStore
	clients   ports.ClientProvider
	executor  StageRunner
	generator ports.Generator
	feedback  CompletionHook
	metrics   *telemetry.Metrics
	logger    *slog.Logger

	locks *runLocks
	now   func() time.Time
	newID func() string

	queue chan string
	mu    sync.Mutex
	// queued runs wait in the channel; active runs are on a worker and
	// rerun marks active runs that were enqueued again meanwhile.
	queued map[string]bool
	active map[string]bool
	rerun  map[string]bool

	cancel   context.CancelFunc
	done     chan struct{}
	hooks    sync.WaitGroup
	startMu  sync.Mutex
	started  bool
	stopping chan struct{}
}

// New creates an orchestrator. Call Start to begin processing.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Registry == nil || deps.Runs == nil || deps.Clients == nil || deps.Executor == nil || deps.Generator == nil {
		return nil, fmt.Errorf("orchestrator requires registry, run store, client provider, executor and generator")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  deps.Registry,
		runs:      deps.Runs,
		clients:   deps.Clients,
		executor:  deps.Executor,
		generator: deps.Generator,
		feedback:  deps.Feedback,
		metrics:   deps.Metrics,
		logger:    logger,
		locks:     newRunLocks(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		queue:     make(chan string, cfg.QueueSize),
		queued:    make(map[string]bool),
		active:    make(map[string]bool),
		rerun:     make(map[string]bool),
		done:      make(chan struct{}),
		stopping:  make(chan struct{}),
	}, nil
}

// Start launches the worker pool and resumes every unfinished run found in
// the store.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startMu.Lock()
	if o.started {
		o.startMu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.startMu.Unlock()

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)

	go func() {
		defer close(o.done)
		for {
			select {
			case <-runCtx.Done():
				_ = g.Wait()
				return
			case id := <-o.queue:
				o.mu.Lock()
				delete(o.queued, id)
				o.active[id] = true
				o.mu.Unlock()
				g.Go(func() error {
					o.process(runCtx, id)
					o.release(id)
					return nil
				})
			}
		}
	}()

	o.logger.Info("orchestrator started", slog.Int("workers", o.cfg.Workers))
	return o.Resume(ctx)
}

// Resume enqueues every pending run and every running run not waiting on a
// human. It is safe to call repeatedly.
func (o *Orchestrator) Resume(ctx context.Context) error {
	runs, err := o.runs.ListRuns(ctx, ports.RunListOptions{
		Statuses: []domain.RunStatus{domain.RunStatusPending, domain.RunStatusRunning},
	})
	if err != nil {
		return fmt.Errorf("failed to list unfinished runs: %w", err)
	}
	resumed := 0
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].PausedForReview() {
			continue
		}
		o.enqueue(runs[i].ID)
		resumed++
	}
	if resumed > 0 {
		o.logger.Info("resuming unfinished runs", slog.Int("count", resumed))
	}
	return nil
}

// Shutdown stops the pool and waits for in-flight stages and completion
// hooks, or for ctx. Runs interrupted here stay running and resume on the
// next Start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.startMu.Lock()
	if !o.started {
		o.startMu.Unlock()
		return nil
	}
	select {
	case <-o.stopping:
	default:
		close(o.stopping)
	}
	o.cancel()
	o.startMu.Unlock()

	select {
	case <-o.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	hooksDone := make(chan struct{})
	go func() {
		o.hooks.Wait()
		close(hooksDone)
	}()
	select {
	case <-hooksDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateRun registers a new pending run for a known client and queues it.
func (o *Orchestrator) CreateRun(ctx context.Context, clientID string, brief domain.Brief) (*domain.PipelineRun, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, domain.ErrInvalidRequest("client_id is required")
	}
	if strings.TrimSpace(brief.Prompt) == "" {
		return nil, domain.ErrInvalidRequest("brief.prompt is required")
	}
	profile, err := o.clients.GetProfile(ctx, clientID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	run := &domain.PipelineRun{
		ID:        o.newID(),
		ClientID:  clientID,
		Profile:   profile.Clone(),
		Brief:     brief,
		Status:    domain.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	o.logTransition(ctx, run, "run created")
	o.enqueue(run.ID)
	return run, nil
}

// GetRun returns a run with its full stage-result history.
func (o *Orchestrator) GetRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	return o.runs.GetRun(ctx, id)
}

// ListRuns lists runs newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, opts ports.RunListOptions) ([]*domain.PipelineRun, error) {
	return o.runs.ListRuns(ctx, opts)
}

// Approve accepts the result a paused run is waiting on and resumes it.
func (o *Orchestrator) Approve(ctx context.Context, runID string, stage domain.StageName) (*domain.PipelineRun, error) {
	unlock := o.locks.lock(runID)
	defer unlock()

	run, res, err := o.pausedAt(ctx, runID, stage)
	if err != nil {
		return nil, err
	}
	run.Results = run.Results.Put(res.WithReview(domain.VerdictPass, "", o.now()))
	run.HumanReviewRequired = false
	if err := o.save(ctx, run); err != nil {
		return nil, err
	}
	o.logTransition(ctx, run, "stage approved")
	o.enqueue(run.ID)
	return run, nil
}

// Reject fails a paused run at stage with reason.
func (o *Orchestrator) Reject(ctx context.Context, runID string, stage domain.StageName, reason string) (*domain.PipelineRun, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.ErrInvalidRequest("reason is required")
	}
	unlock := o.locks.lock(runID)
	defer unlock()

	run, res, err := o.pausedAt(ctx, runID, stage)
	if err != nil {
		return nil, err
	}
	run.Results = run.Results.Put(res.WithReview(domain.VerdictRejected, reason, o.now()))
	run.HumanReviewRequired = false
	o.finish(run, domain.RunStatusFailed)
	run.Error = &domain.RunError{Stage: stage, Kind: domain.KindReviewRejected, Reason: reason}
	if err := o.save(ctx, run); err != nil {
		return nil, err
	}
	o.logTransition(ctx, run, "stage rejected by reviewer")
	return run, nil
}

// Cancel moves a non-terminal run to cancelled. A stage call already in
// flight completes but its result is discarded.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	unlock := o.locks.lock(runID)
	defer unlock()

	run, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("cannot cancel %s run %s: %w", run.Status, runID, domain.ErrInvalidTransition)
	}
	run.HumanReviewRequired = false
	o.finish(run, domain.RunStatusCancelled)
	if err := o.save(ctx, run); err != nil {
		return nil, err
	}
	o.logTransition(ctx, run, "run cancelled")
	return run, nil
}

func (o *Orchestrator) pausedAt(ctx context.Context, runID string, stage domain.StageName) (*domain.PipelineRun, *domain.StageResult, error) {
	run, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if !run.PausedForReview() {
		return nil, nil, fmt.Errorf("run %s is %s and not awaiting review: %w", runID, run.Status, domain.ErrInvalidTransition)
	}
	res := run.Results.Get(stage)
	if run.Stage != stage || res == nil || res.Verdict != domain.VerdictNeedsReview {
		return nil, nil, fmt.Errorf("run %s is awaiting review of %s, not %s: %w", runID, run.Stage, stage, domain.ErrInvalidTransition)
	}
	return run, res, nil
}

// process advances one run until it pauses, finishes or the pool stops.
func (o *Orchestrator) process(ctx context.Context, runID string) {
	for ctx.Err() == nil {
		work, stage, ok := o.nextStage(ctx, runID)
		if !ok {
			return
		}

		before := work.Telemetry
		res, err := o.executor.Execute(ctx, work, stage, o.generator)
		spent := delta(work.Telemetry, before)

		if !o.record(ctx, runID, stage, res, err, spent) {
			return
		}
	}
}

// nextStage moves the run to running if needed and returns the stage to
// execute next. ok is false when there is nothing to execute.
func (o *Orchestrator) nextStage(ctx context.Context, runID string) (*domain.PipelineRun, domain.StageName, bool) {
	unlock := o.locks.lock(runID)
	defer unlock()

	run, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		o.logger.Error("failed to load run", slog.String("run_id", runID), slog.String("error", err.Error()))
		return nil, "", false
	}
	if run.Status.Terminal() || run.PausedForReview() {
		return nil, "", false
	}

	if run.Status == domain.RunStatusPending {
		run.Status = domain.RunStatusRunning
		o.logTransition(ctx, run, "run started")
	}

	stage, ok := o.registry.Next(run.Brief, run.Results)
	if !ok {
		o.finish(run, domain.RunStatusCompleted)
		if err := o.save(ctx, run); err != nil {
			o.logger.Error("failed to complete run", slog.String("run_id", runID), slog.String("error", err.Error()))
			return nil, "", false
		}
		o.logTransition(ctx, run, "run completed")
		o.completed(ctx, run)
		return nil, "", false
	}

	run.Stage = stage
	if err := o.save(ctx, run); err != nil {
		o.logger.Error("failed to persist run", slog.String("run_id", runID), slog.String("error", err.Error()))
		return nil, "", false
	}
	o.logger.Info("executing stage",
		slog.String("run_id", run.ID),
		slog.String("stage", string(stage)))
	return run, stage, true
}

// record applies one stage outcome to the persisted run. It reports
// whether the worker should continue with the next stage.
func (o *Orchestrator) record(ctx context.Context, runID string, stage domain.StageName, res *domain.StageResult, execErr error, spent domain.Telemetry) bool {
	unlock := o.locks.lock(runID)
	defer unlock()

	if ctx.Err() != nil {
		// Interrupted by shutdown; the stage runs again on resume.
		return false
	}

	run, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		o.logger.Error("failed to reload run", slog.String("run_id", runID), slog.String("error", err.Error()))
		return false
	}
	run.Telemetry.Add(spent)

	if run.Status.Terminal() {
		// The result is dropped but the calls that produced it were paid for.
		if err := o.save(ctx, run); err != nil {
			o.logger.Error("failed to persist telemetry of finished run", slog.String("run_id", runID), slog.String("error", err.Error()))
		}
		o.logger.Info("discarding stage outcome for finished run",
			slog.String("run_id", runID),
			slog.String("stage", string(stage)),
			slog.String("status", string(run.Status)))
		return false
	}

	if execErr != nil {
		o.finish(run, domain.RunStatusFailed)
		run.Error = runError(stage, execErr)
		if err := o.save(ctx, run); err != nil {
			o.logger.Error("failed to persist failed run", slog.String("run_id", runID), slog.String("error", err.Error()))
			return false
		}
		o.logTransition(ctx, run, "run failed",
			slog.String("kind", string(run.Error.Kind)),
			slog.String("reason", run.Error.Reason))
		return false
	}

	run.Results = run.Results.Put(res)
	if res.Verdict == domain.VerdictNeedsReview {
		run.HumanReviewRequired = true
	}
	if err := o.save(ctx, run); err != nil {
		o.logger.Error("failed to persist stage result", slog.String("run_id", runID), slog.String("error", err.Error()))
		return false
	}

	if run.HumanReviewRequired {
		o.logTransition(ctx, run, "run paused for review",
			slog.Float64("quality_score", res.QualityScore),
			slog.Any("findings", res.Findings))
		return false
	}
	o.logger.Info("stage passed",
		slog.String("run_id", run.ID),
		slog.String("stage", string(stage)),
		slog.Float64("quality_score", res.QualityScore),
		slog.Int("attempts", res.Attempts),
		slog.Bool("cached", res.Cached))
	return true
}

func (o *Orchestrator) completed(ctx context.Context, run *domain.PipelineRun) {
	if o.feedback == nil {
		return
	}
	snapshot := run.Clone()
	o.hooks.Add(1)
	go func() {
		defer o.hooks.Done()
		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		entries, err := o.feedback.OnRunCompleted(hookCtx, snapshot)
		if err != nil {
			o.logger.Error("knowledge feedback failed",
				slog.String("run_id", snapshot.ID),
				slog.String("error", err.Error()))
			return
		}
		o.logger.Info("knowledge feedback recorded",
			slog.String("run_id", snapshot.ID),
			slog.Int("entries", len(entries)))
	}()
}

func (o *Orchestrator) finish(run *domain.PipelineRun, status domain.RunStatus) {
	now := o.now()
	run.Status = status
	run.CompletedAt = &now
}

func (o *Orchestrator) save(ctx context.Context, run *domain.PipelineRun) error {
	run.UpdatedAt = o.now()
	if err := o.runs.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

func (o *Orchestrator) logTransition(ctx context.Context, run *domain.PipelineRun, msg string, attrs ...any) {
	o.metrics.RecordTransition(ctx, string(run.Status))
	args := append([]any{
		slog.String("run_id", run.ID),
		slog.String("stage", string(run.Stage)),
		slog.String("status", string(run.Status)),
	}, attrs...)
	o.logger.Info(msg, args...)
}

// enqueue schedules a run. A run already on a worker is picked up again
// when that worker releases it.
func (o *Orchestrator) enqueue(id string) {
	o.mu.Lock()
	switch {
	case o.active[id]:
		o.rerun[id] = true
		o.mu.Unlock()
		return
	case o.queued[id]:
		o.mu.Unlock()
		return
	}
	o.queued[id] = true
	o.mu.Unlock()

	select {
	case o.queue <- id:
	case <-o.stopping:
	}
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.active, id)
	again := o.rerun[id]
	delete(o.rerun, id)
	o.mu.Unlock()

	if again {
		// Sent from a fresh goroutine: this worker slot must free up
		// before a full queue can drain.
		go o.enqueue(id)
	}
}

func runError(stage domain.StageName, err error) *domain.RunError {
	var se *domain.StageError
	if errors.As(err, &se) {
		return &domain.RunError{Stage: se.Stage, Kind: se.Kind, Reason: se.Reason()}
	}
	return &domain.RunError{Stage: stage, Kind: domain.Classify(err), Reason: err.Error()}
}

func delta(after, before domain.Telemetry) domain.Telemetry {
	return domain.Telemetry{
		CostUSD:    after.CostUSD - before.CostUSD,
		Tokens:     after.Tokens - before.Tokens,
		Duration:   after.Duration - before.Duration,
		Attempts:   after.Attempts - before.Attempts,
		ModelCalls: after.ModelCalls - before.ModelCalls,
	}
}
