package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "eventforge"

// Metrics holds the EventForge metric instruments. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	ExtractionsStarted   metric.Int64Counter
	ExtractionsCompleted metric.Int64Counter
	ExtractionsFailed    metric.Int64Counter
	PagesFetched         metric.Int64Counter
	BackendCalls         metric.Int64Counter
	RunDuration          metric.Float64Histogram
	RunIterations        metric.Int64Histogram
}

// NewMetrics creates all instruments on mp, or on the global provider when
// mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ExtractionsStarted, err = meter.Int64Counter("eventforge.extractions.started",
		metric.WithDescription("Number of extraction runs started"))
	if err != nil {
		return nil, err
	}

	m.ExtractionsCompleted, err = meter.Int64Counter("eventforge.extractions.completed",
		metric.WithDescription("Number of extraction runs completed"))
	if err != nil {
		return nil, err
	}

	m.ExtractionsFailed, err = meter.Int64Counter("eventforge.extractions.failed",
		metric.WithDescription("Number of extraction runs failed"))
	if err != nil {
		return nil, err
	}

	m.PagesFetched, err = meter.Int64Counter("eventforge.pages.fetched",
		metric.WithDescription("Pages fetched, by outcome"))
	if err != nil {
		return nil, err
	}

	m.BackendCalls, err = meter.Int64Counter("eventforge.backend.calls",
		metric.WithDescription("Text backend calls, by provider and outcome"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("eventforge.run.duration_seconds",
		metric.WithDescription("Extraction run duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.RunIterations, err = meter.Int64Histogram("eventforge.run.iterations",
		metric.WithDescription("Iterations used per extraction run"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RunStarted counts a started run.
func (m *Metrics) RunStarted(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	m.ExtractionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RunFinished records the outcome, duration and iteration count of a run.
func (m *Metrics) RunFinished(ctx context.Context, strategy string, elapsed time.Duration, iterations int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("strategy", strategy))
	if err != nil {
		m.ExtractionsFailed.Add(ctx, 1, attrs)
	} else {
		m.ExtractionsCompleted.Add(ctx, 1, attrs)
		m.RunIterations.Record(ctx, int64(iterations), attrs)
	}
	m.RunDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// PageFetched counts a fetch by outcome ("ok", "cached", "error").
func (m *Metrics) PageFetched(ctx context.Context, outcome string, specialized bool) {
	if m == nil {
		return
	}
	m.PagesFetched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("specialized", specialized),
	))
}

// BackendCall counts one text backend call.
func (m *Metrics) BackendCall(ctx context.Context, provider string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BackendCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}
