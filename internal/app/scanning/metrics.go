package scanning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/dastctl/internal/domain/scanning"
)

// RunMetrics defines metrics recorded over the course of an orchestrator run.
type RunMetrics interface {
	IncRuns(ctx context.Context, outcome scanning.Outcome)
	IncStatusPolls(ctx context.Context)
	IncExports(ctx context.Context, format scanning.ExportFormat)
	ObserveIssuesWritten(ctx context.Context, count int)
	ObserveRunDuration(ctx context.Context, d time.Duration)
}

// runMetrics implements RunMetrics.
type runMetrics struct {
	runs          metric.Int64Counter
	statusPolls   metric.Int64Counter
	exports       metric.Int64Counter
	issuesWritten metric.Int64Histogram
	runDuration   metric.Float64Histogram
}

const namespace = "dastctl_scan"

// NewRunMetrics creates a new RunMetrics instance.
func NewRunMetrics(mp metric.MeterProvider) (*runMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(runMetrics)
	var err error

	if m.runs, err = meter.Int64Counter(
		"runs_total",
		metric.WithDescription("Total number of orchestrated scan runs by outcome"),
	); err != nil {
		return nil, err
	}

	if m.statusPolls, err = meter.Int64Counter(
		"status_polls_total",
		metric.WithDescription("Total number of scan status requests"),
	); err != nil {
		return nil, err
	}

	if m.exports, err = meter.Int64Counter(
		"exports_total",
		metric.WithDescription("Total number of result exports by format"),
	); err != nil {
		return nil, err
	}

	if m.issuesWritten, err = meter.Int64Histogram(
		"issues_written",
		metric.WithDescription("Number of issues written per run"),
	); err != nil {
		return nil, err
	}

	if m.runDuration, err = meter.Float64Histogram(
		"run_duration_seconds",
		metric.WithDescription("Wall-clock duration of a scan run"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *runMetrics) IncRuns(ctx context.Context, outcome scanning.Outcome) {
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m *runMetrics) IncStatusPolls(ctx context.Context) { m.statusPolls.Add(ctx, 1) }

func (m *runMetrics) IncExports(ctx context.Context, format scanning.ExportFormat) {
	m.exports.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format.String())))
}

func (m *runMetrics) ObserveIssuesWritten(ctx context.Context, count int) {
	m.issuesWritten.Record(ctx, int64(count))
}

func (m *runMetrics) ObserveRunDuration(ctx context.Context, d time.Duration) {
	m.runDuration.Record(ctx, d.Seconds())
}
