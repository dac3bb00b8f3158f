package emitter

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/reclaim/pkg/resource"
)

// PrometheusEmitter emits reports as OTel metrics, scraped through the
// Prometheus exporter.
type PrometheusEmitter struct {
	meter  metric.Meter
	logger zerolog.Logger

	reclaimableInfo  metric.Int64ObservableGauge
	discoveredGauge  metric.Int64ObservableGauge
	reclaimableGauge metric.Int64ObservableGauge
	cycleDuration    metric.Float64Histogram
	cyclesTotal      metric.Int64Counter
	anomaliesTotal   metric.Int64Counter
	registration     metric.Registration

	// State for observable gauges
	mu          sync.RWMutex
	reclaimable []resource.Resource
	discovered  map[string]int
	byKind      map[string]int
}

// NewPrometheusEmitter creates a Prometheus emitter on the global meter provider.
func NewPrometheusEmitter() (*PrometheusEmitter, error) {
	return NewPrometheusEmitterWithMeter(otel.Meter("reclaim"))
}

// NewPrometheusEmitterWithMeter creates a Prometheus emitter on meter.
func NewPrometheusEmitterWithMeter(meter metric.Meter) (*PrometheusEmitter, error) {
	e := &PrometheusEmitter{
		meter:      meter,
		logger:     log.Logger,
		discovered: make(map[string]int),
		byKind:     make(map[string]int),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	// One series per reclaimable resource
	e.reclaimableInfo, err = e.meter.Int64ObservableGauge(
		"reclaim_reclaimable_resource_info",
		metric.WithDescription("Resources found unreachable from the root set"),
	)
	if err != nil {
		return fmt.Errorf("create reclaimable_resource_info gauge: %w", err)
	}

	e.discoveredGauge, err = e.meter.Int64ObservableGauge(
		"reclaim_discovered_resources",
		metric.WithDescription("Resources discovered in the last cycle, by kind"),
	)
	if err != nil {
		return fmt.Errorf("create discovered_resources gauge: %w", err)
	}

	e.reclaimableGauge, err = e.meter.Int64ObservableGauge(
		"reclaim_reclaimable_resources",
		metric.WithDescription("Reclaimable resources in the last cycle, by kind"),
	)
	if err != nil {
		return fmt.Errorf("create reclaimable_resources gauge: %w", err)
	}

	e.cycleDuration, err = e.meter.Float64Histogram(
		"reclaim_cycle_duration_seconds",
		metric.WithDescription("Time taken by one discover and sweep cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create cycle_duration histogram: %w", err)
	}

	e.cyclesTotal, err = e.meter.Int64Counter(
		"reclaim_cycles_total",
		metric.WithDescription("Total completed cycles"),
	)
	if err != nil {
		return fmt.Errorf("create cycles counter: %w", err)
	}

	e.anomaliesTotal, err = e.meter.Int64Counter(
		"reclaim_anomalies_total",
		metric.WithDescription("Total extraction anomalies"),
	)
	if err != nil {
		return fmt.Errorf("create anomalies counter: %w", err)
	}

	e.registration, err = e.meter.RegisterCallback(e.observe, e.reclaimableInfo, e.discoveredGauge, e.reclaimableGauge)
	if err != nil {
		return fmt.Errorf("register gauge callback: %w", err)
	}

	return nil
}

// Emit records the report as metrics.
func (e *PrometheusEmitter) Emit(ctx context.Context, report Report) error {
	e.cycleDuration.Record(ctx, report.Duration.Seconds())
	e.cyclesTotal.Add(ctx, 1)

	for _, a := range report.Anomalies {
		e.anomaliesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(a.Kind)),
			attribute.String("service", a.Service),
		))
	}

	discovered := make(map[string]int)
	for _, r := range report.Discovered.Resources {
		discovered[r.Kind]++
	}

	e.mu.Lock()
	e.reclaimable = report.Reclaimable.Resources
	e.discovered = discovered
	e.byKind = report.ReclaimableByKind()
	e.mu.Unlock()

	e.logger.Info().
		Str("pass_id", report.PassID).
		Int("discovered", len(report.Discovered.Resources)).
		Int("reclaimable", len(report.Reclaimable.Resources)).
		Int("anomalies", len(report.Anomalies)).
		Dur("duration", report.Duration).
		Msg("cycle complete")

	return nil
}

// observe is the callback for the observable gauges.
func (e *PrometheusEmitter) observe(_ context.Context, o metric.Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.reclaimable {
		attrs := []attribute.KeyValue{
			attribute.String("urid", string(r.URID())),
			attribute.String("kind", r.Kind),
		}
		if r.Created != nil {
			attrs = append(attrs, attribute.String("created", r.Created.Format("2006-01-02")))
		}
		for k, v := range r.Tags() {
			if v != "" {
				attrs = append(attrs, attribute.String("tag_"+k, v))
			}
		}
		o.ObserveInt64(e.reclaimableInfo, 1, metric.WithAttributes(attrs...))
	}

	for kind, n := range e.discovered {
		o.ObserveInt64(e.discoveredGauge, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
	}
	for kind, n := range e.byKind {
		o.ObserveInt64(e.reclaimableGauge, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
	}

	return nil
}

// Close unregisters the gauge callback.
func (e *PrometheusEmitter) Close() error {
	return e.registration.Unregister()
}
