package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/yairfalse/reclaim/internal/config"
	"github.com/yairfalse/reclaim/internal/emitter"
	"github.com/yairfalse/reclaim/internal/extract"
	"github.com/yairfalse/reclaim/internal/filter"
	"github.com/yairfalse/reclaim/internal/orchestrator"
	"github.com/yairfalse/reclaim/internal/provider"
	awsprovider "github.com/yairfalse/reclaim/internal/provider/aws"
	"github.com/yairfalse/reclaim/internal/roots"
	"github.com/yairfalse/reclaim/internal/store"
	"github.com/yairfalse/reclaim/internal/telemetry"
)

// appOptions selects the parts of the pipeline a command needs.
type appOptions struct {
	discover   bool      // connect to AWS
	prometheus bool      // export metrics through the Prometheus registry
	out        io.Writer // report output, nil for none
	format     string
	d3Path     string
}

// app is the wired pipeline of one command invocation.
type app struct {
	cfg          *config.Config
	telemetry    *telemetry.Provider
	store        *store.Store
	emitter      *emitter.MultiEmitter
	orchestrator *orchestrator.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(ctx)
		}
	}()

	rules, err := loadRules(cfg.Discovery.Mapping)
	if err != nil {
		return nil, err
	}

	f, err := filter.New(filter.Options{
		ExcludeKinds:    cfg.Discovery.ExcludeKinds,
		ExcludeServices: cfg.Discovery.ExcludeServices,
		IncludeTags:     cfg.Report.IncludeTags,
		ExcludeTags:     cfg.Report.ExcludeTags,
	})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	builder, err := newRootBuilder(ctx, cfg.Roots)
	if err != nil {
		return nil, err
	}

	var readers []sdkmetric.Reader
	if opts.prometheus {
		exporter, err := otelprom.New()
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		readers = append(readers, exporter)
	}
	a.telemetry, err = telemetry.NewProvider(ctx, cfg.OTEL, readers...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	engineOpts := []extract.Option{
		extract.WithLogger(log.Logger),
		extract.WithConcurrency(cfg.Discovery.Concurrency),
		extract.WithRegions(cfg.AWS.Regions...),
		extract.WithRecorder(a.telemetry.Recorder()),
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithRegions(cfg.AWS.Regions...),
		orchestrator.WithLogger(log.Logger),
	}
	if !f.IsEmpty() {
		engineOpts = append(engineOpts, extract.WithFilter(f))
		orchOpts = append(orchOpts, orchestrator.WithFilter(f))
	}
	engine := extract.New(engineOpts...)

	var src extract.Source
	if opts.discover {
		source, err := provider.Open(ctx, awsprovider.Name, provider.Options{
			Profile: cfg.AWS.Profile,
			Regions: cfg.AWS.Regions,
		})
		if err != nil {
			return nil, err
		}
		src = source
	}

	a.store, err = store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	a.emitter, err = newEmitter(cfg, opts)
	if err != nil {
		return nil, err
	}

	orchOpts = append(orchOpts,
		orchestrator.WithStore(a.store, cfg.Storage.KeepSnapshots),
		orchestrator.WithEmitter(a.emitter),
	)
	a.orchestrator = orchestrator.New(engine, rules, src, builder, orchOpts...)
	return a, nil
}

func loadRules(path string) (extract.RuleSet, error) {
	if path == "" {
		return extract.DefaultRuleSet()
	}
	return extract.LoadRuleSet(path)
}

func newRootBuilder(ctx context.Context, cfg config.RootsConfig) (*roots.Builder, error) {
	opts := []roots.Option{
		roots.WithProtectUsed(cfg.ProtectUsed),
		roots.WithLogger(log.Logger),
	}
	if cfg.Manifest != "" {
		m, err := roots.LoadManifest(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		opts = append(opts, roots.WithManifest(m))
	}
	if cfg.Policy != "" {
		p, err := roots.LoadPolicy(ctx, cfg.Policy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, roots.WithPolicy(p))
	}
	return roots.NewBuilder(opts...), nil
}

func newEmitter(cfg *config.Config, opts appOptions) (*emitter.MultiEmitter, error) {
	var emitters []emitter.Emitter
	if opts.out != nil {
		w, err := emitter.NewWriterEmitter(opts.out, opts.format)
		if err != nil {
			return nil, err
		}
		emitters = append(emitters, w)
	}

	d3Path := opts.d3Path
	if d3Path == "" {
		d3Path = cfg.Export.D3Path
	}
	if d3Path != "" {
		emitters = append(emitters, emitter.NewD3Emitter(d3Path))
	}

	if opts.prometheus {
		p, err := emitter.NewPrometheusEmitter()
		if err != nil {
			return nil, err
		}
		emitters = append(emitters, p)
	}
	return emitter.NewMultiEmitter(emitters...), nil
}

// Close releases everything newApp opened.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.emitter != nil {
		errs = append(errs, a.emitter.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
