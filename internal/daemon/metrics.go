package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/reclaim/internal/emitter"
)

// DaemonMetrics holds operational metrics using OTEL semantic conventions
type DaemonMetrics struct {
	cycles            metric.Int64Counter
	cycleDuration     metric.Float64Histogram
	snapshotRevision  metric.Int64Gauge
	rootsSelected     metric.Int64Gauge
	resourcesKept     metric.Int64Gauge
	lastSuccessfulRun metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics on the global meter provider.
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetricsWithProvider(otel.GetMeterProvider())
}

func newDaemonMetricsWithProvider(provider metric.MeterProvider) (*DaemonMetrics, error) {
	meter := provider.Meter("reclaim.daemon")

	cycles, err := meter.Int64Counter(
		"reclaim.daemon.cycles",
		metric.WithDescription("Number of collection cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"reclaim.daemon.cycle.duration",
		metric.WithDescription("Duration of collection cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	snapshotRevision, err := meter.Int64Gauge(
		"reclaim.snapshot.revision",
		metric.WithDescription("Revision of the latest stored snapshot"),
		metric.WithUnit("{revision}"),
	)
	if err != nil {
		return nil, err
	}

	rootsSelected, err := meter.Int64Gauge(
		"reclaim.roots.selected",
		metric.WithDescription("Number of roots selected in the latest cycle"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	resourcesKept, err := meter.Int64Gauge(
		"reclaim.resources.kept",
		metric.WithDescription("Number of resources reachable from roots"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	lastSuccessfulRun, err := meter.Int64Gauge(
		"reclaim.daemon.last_success",
		metric.WithDescription("Unix time of the latest successful cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		cycles:            cycles,
		cycleDuration:     cycleDuration,
		snapshotRevision:  snapshotRevision,
		rootsSelected:     rootsSelected,
		resourcesKept:     resourcesKept,
		lastSuccessfulRun: lastSuccessfulRun,
	}, nil
}

// RecordCycle records a cycle run with its status.
func (m *DaemonMetrics) RecordCycle(ctx context.Context, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, durationSeconds, attrs)
}

// RecordReport records the outcome of a successful cycle.
func (m *DaemonMetrics) RecordReport(ctx context.Context, report emitter.Report) {
	if report.Revision > 0 {
		m.snapshotRevision.Record(ctx, report.Revision)
	}
	m.rootsSelected.Record(ctx, int64(len(report.Roots)))
	m.resourcesKept.Record(ctx, int64(report.Kept))
	m.lastSuccessfulRun.Record(ctx, report.Started.Add(report.Duration).Unix())
}
