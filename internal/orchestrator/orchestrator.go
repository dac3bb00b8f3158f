// Package orchestrator runs collection cycles: discover, snapshot, build
// roots, sweep, report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/reclaim/internal/emitter"
	"github.com/yairfalse/reclaim/internal/extract"
	"github.com/yairfalse/reclaim/internal/roots"
	"github.com/yairfalse/reclaim/internal/store"
	"github.com/yairfalse/reclaim/internal/sweep"
	"github.com/yairfalse/reclaim/pkg/resource"
)

// Orchestrator coordinates discover → roots → sweep → emit.
type Orchestrator struct {
	engine  Discoverer
	rules   extract.RuleSet
	source  extract.Source
	roots   RootBuilder
	store   Snapshots
	keep    int
	filter  ReportFilter
	emitter emitter.Emitter
	regions []string
	logger  zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore saves every discovered graph and keeps the newest keep snapshots.
func WithStore(s Snapshots, keep int) Option {
	return func(o *Orchestrator) {
		o.store = s
		o.keep = keep
	}
}

// WithFilter narrows reported reclaimable resources.
func WithFilter(f ReportFilter) Option {
	return func(o *Orchestrator) { o.filter = f }
}

// WithEmitter sends every report to e.
func WithEmitter(e emitter.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithRegions records the regions a pass covers.
func WithRegions(regions ...string) Option {
	return func(o *Orchestrator) { o.regions = regions }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator. The source may be nil when only stored
// snapshots are swept.
func New(engine Discoverer, rules extract.RuleSet, src extract.Source, rb RootBuilder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine: engine,
		rules:  rules,
		source: src,
		roots:  rb,
		logger: log.Logger,
		tracer: otel.Tracer("reclaim/orchestrator"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Discover runs one extraction pass and stores the graph when a store is
// configured. An interrupted pass is not stored.
func (o *Orchestrator) Discover(ctx context.Context) (*Discovery, error) {
	if o.source == nil {
		return nil, errors.New("no source configured")
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.Discover")
	defer span.End()

	started := o.now()
	result, err := o.engine.Run(ctx, o.rules, o.source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		return nil, fmt.Errorf("discover: %w", err)
	}

	d := &Discovery{PassID: uuid.NewString(), Account: o.account(ctx), Result: result}
	resources, relations := result.Graph.Len()
	o.logger.Info().
		Int("resources", resources).
		Int("relations", relations).
		Int("anomalies", len(result.Anomalies)).
		Dur("duration", o.now().Sub(started)).
		Msg("discovery complete")

	if o.store == nil {
		return d, nil
	}

	info, err := o.store.Save(result.Graph, store.Meta{
		PassID:    d.PassID,
		Account:   d.Account,
		Regions:   o.regions,
		Anomalies: len(result.Anomalies),
		Started:   started,
	})
	if err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	d.Revision = info.Revision
	span.SetAttributes(attribute.Int64("snapshot.revision", info.Revision))

	if o.keep > 0 {
		removed, err := o.store.Compact(o.keep)
		if err != nil {
			// a failed compaction leaves old snapshots behind, nothing more
			o.logger.Warn().Err(err).Msg("snapshot compaction failed")
		} else if removed > 0 {
			o.logger.Debug().Int("removed", removed).Msg("snapshots compacted")
		}
	}
	return d, nil
}

// account names the account of sources that can tell. Lookup failures
// leave it empty.
func (o *Orchestrator) account(ctx context.Context) string {
	src, ok := o.source.(AccountSource)
	if !ok {
		return ""
	}
	id, err := src.AccountID(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("account lookup failed")
		return ""
	}
	return id
}

// RunCycle discovers the account and sweeps the fresh graph.
func (o *Orchestrator) RunCycle(ctx context.Context) (*emitter.Report, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.RunCycle")
	defer span.End()

	started := o.now()
	d, err := o.Discover(ctx)
	if err != nil {
		return nil, err
	}

	report := emitter.Report{
		PassID:     d.PassID,
		Revision:   d.Revision,
		Started:    started,
		Regions:    o.regions,
		Discovered: d.Result.Graph,
		Anomalies:  d.Result.Anomalies,
		Rules:      d.Result.Rules,
	}
	return o.sweep(ctx, report, started)
}

// SweepSnapshot sweeps a stored graph. Revision 0 selects the latest.
func (o *Orchestrator) SweepSnapshot(ctx context.Context, revision int64) (*emitter.Report, error) {
	if o.store == nil {
		return nil, errors.New("no snapshot store configured")
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.SweepSnapshot")
	defer span.End()

	started := o.now()
	var (
		snap *store.Snapshot
		err  error
	)
	if revision == 0 {
		snap, err = o.store.Latest()
	} else {
		snap, err = o.store.Load(revision)
	}
	if err != nil {
		return nil, err
	}

	report := emitter.Report{
		PassID:     snap.PassID,
		Revision:   snap.Revision,
		Started:    started,
		Regions:    snap.Meta.Regions,
		Discovered: snap.Graph,
	}
	return o.sweep(ctx, report, started)
}

func (o *Orchestrator) sweep(ctx context.Context, report emitter.Report, started time.Time) (*emitter.Report, error) {
	rootSet, err := o.roots.Build(ctx, report.Discovered)
	if err != nil {
		return nil, fmt.Errorf("build roots: %w", err)
	}

	res, err := sweep.Sweep(report.Discovered, roots.URIDs(rootSet))
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	reclaimable := res.Reclaimable
	if o.filter != nil {
		reclaimable = o.filter.FilterGraph(reclaimable)
	}

	report.Roots = rootSet
	report.IgnoredRoots = res.IgnoredRoots
	report.Kept = res.Kept.Len()
	report.Reclaimable = reclaimable
	report.Duration = o.now().Sub(started)

	o.logger.Info().
		Str("pass_id", report.PassID).
		Int("roots", len(rootSet)).
		Int("ignored_roots", len(res.IgnoredRoots)).
		Int("kept", report.Kept).
		Int("reclaimable", len(reclaimable.Resources)).
		Msg("sweep complete")

	if o.emitter != nil {
		if err := o.emitter.Emit(ctx, report); err != nil {
			return &report, fmt.Errorf("emit report: %w", err)
		}
	}
	return &report, nil
}

// Reclaimable lists the identities of reclaimable resources in a report.
func Reclaimable(report *emitter.Report) []resource.URID {
	set := resource.NewSet()
	for _, r := range report.Reclaimable.Resources {
		set.Add(r.URID())
	}
	return set.Sorted()
}
