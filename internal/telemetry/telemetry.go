// Package telemetry provides OpenTelemetry instrumentation for reclaim.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/yairfalse/reclaim/internal/config"
	"github.com/yairfalse/reclaim/internal/extract"
)

const meterName = "reclaim"

// Provider owns the trace and meter providers of one reclaim process and
// the extraction instruments recorded on them.
type Provider struct {
	traces   *sdktrace.TracerProvider
	metrics  *sdkmetric.MeterProvider
	meter    metric.Meter
	recorder *Recorder
}

// NewProvider installs global trace and meter providers. OTLP export is
// switched on per signal when an endpoint is configured. Extra readers,
// such as the Prometheus exporter, are attached either way.
func NewProvider(ctx context.Context, cfg config.OTELConfig, readers ...sdkmetric.Reader) (*Provider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traces, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	metrics, err := newMeterProvider(ctx, cfg, res, readers)
	if err != nil {
		_ = traces.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(traces)
	otel.SetMeterProvider(metrics)

	p := &Provider{
		traces:  traces,
		metrics: metrics,
		meter:   metrics.Meter(meterName),
	}
	if p.recorder, err = NewRecorder(p.meter); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	return p, nil
}

func newTracerProvider(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Endpoint == "" || !cfg.Traces.Enabled {
		return sdktrace.NewTracerProvider(opts...), nil
	}

	client := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		client = append(client, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, client...)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}

	// rule spans inherit the decision made for their discovery pass
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
	opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, cfg config.OTELConfig, res *resource.Resource, readers []sdkmetric.Reader) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	if cfg.Endpoint != "" && cfg.Metrics.Enabled {
		client := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			client = append(client, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, client...)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

// Meter returns the reclaim meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Recorder returns the extraction instruments.
func (p *Provider) Recorder() *Recorder {
	return p.recorder
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.traces.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown traces: %w", err))
	}
	if err := p.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
	}
	return errors.Join(errs...)
}

// Recorder reports extraction statistics as metrics. It implements
// extract.Recorder.
type Recorder struct {
	ruleDuration  metric.Float64Histogram
	itemsTotal    metric.Int64Counter
	resourceCount metric.Int64Counter
	ruleFailures  metric.Int64Counter
	anomalies     metric.Int64Counter
}

var _ extract.Recorder = (*Recorder)(nil)

// NewRecorder creates the extraction instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error

	r.ruleDuration, err = meter.Float64Histogram(
		"reclaim_rule_duration_seconds",
		metric.WithDescription("Duration of one extraction rule in one region"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule_duration: %w", err)
	}

	r.itemsTotal, err = meter.Int64Counter(
		"reclaim_items_enumerated_total",
		metric.WithDescription("Raw provider items enumerated"),
	)
	if err != nil {
		return nil, fmt.Errorf("create items_enumerated: %w", err)
	}

	r.resourceCount, err = meter.Int64Counter(
		"reclaim_resources_extracted_total",
		metric.WithDescription("Resources extracted"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resources_extracted: %w", err)
	}

	r.ruleFailures, err = meter.Int64Counter(
		"reclaim_rule_failures_total",
		metric.WithDescription("Extraction rules that did not complete"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule_failures: %w", err)
	}

	r.anomalies, err = meter.Int64Counter(
		"reclaim_extraction_anomalies_total",
		metric.WithDescription("Extraction anomalies by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("create extraction_anomalies: %w", err)
	}

	return r, nil
}

// RecordRule records the statistics of one rule run.
func (r *Recorder) RecordRule(ctx context.Context, stats extract.RuleStats) {
	attrs := metric.WithAttributes(
		attribute.String("service", stats.Service),
		attribute.String("region", stats.Region),
		attribute.String("kind", stats.Kind),
	)
	r.ruleDuration.Record(ctx, stats.Duration.Seconds(), attrs)
	r.itemsTotal.Add(ctx, int64(stats.Items), attrs)
	r.resourceCount.Add(ctx, int64(stats.Resources), attrs)
	if stats.Failed {
		r.ruleFailures.Add(ctx, 1, attrs)
	}
}

// RecordAnomaly counts one anomaly.
func (r *Recorder) RecordAnomaly(ctx context.Context, a extract.Anomaly) {
	r.anomalies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(a.Kind)),
		attribute.String("service", a.Service),
	))
}
