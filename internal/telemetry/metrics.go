package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are the pipeline counters. Without a registered meter provider
// they are no-ops.
type Metrics struct {
	stageCost     metric.Float64Counter
	stageTokens   metric.Int64Counter
	stageAttempts metric.Int64Counter
	verdicts      metric.Int64Counter
	transitions   metric.Int64Counter
}

// NewMetrics creates the counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("github.com/polything/phoenix-template")

	var (
		m   Metrics
		err error
	)
	if m.stageCost, err = meter.Float64Counter("pipeline.stage.cost_usd",
		metric.WithDescription("Estimated generation cost per stage"), metric.WithUnit("USD")); err != nil {
		return nil, err
	}
	if m.stageTokens, err = meter.Int64Counter("pipeline.stage.tokens",
		metric.WithDescription("Tokens consumed per stage")); err != nil {
		return nil, err
	}
	if m.stageAttempts, err = meter.Int64Counter("pipeline.stage.attempts",
		metric.WithDescription("Generation attempts per stage")); err != nil {
		return nil, err
	}
	if m.verdicts, err = meter.Int64Counter("pipeline.gate.verdicts",
		metric.WithDescription("Quality gate verdicts")); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("pipeline.run.transitions",
		metric.WithDescription("Run status transitions")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordStage adds one stage execution's cost, tokens and attempts.
func (m *Metrics) RecordStage(ctx context.Context, stage string, costUSD float64, tokens, attempts int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	if costUSD > 0 {
		m.stageCost.Add(ctx, costUSD, attrs)
	}
	if tokens > 0 {
		m.stageTokens.Add(ctx, int64(tokens), attrs)
	}
	if attempts > 0 {
		m.stageAttempts.Add(ctx, int64(attempts), attrs)
	}
}

// RecordVerdict counts one gate decision.
func (m *Metrics) RecordVerdict(ctx context.Context, stage, verdict string) {
	if m == nil {
		return
	}
	m.verdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("verdict", verdict)))
}

// RecordTransition counts one run status change.
func (m *Metrics) RecordTransition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
