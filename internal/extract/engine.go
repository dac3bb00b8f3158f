// Package extract turns raw provider items into a resource graph, driven
// by a declarative rule set.
package extract

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/reclaim/internal/fieldpath"
	"github.com/yairfalse/reclaim/pkg/resource"
)

const defaultConcurrency = 8

// RuleFilter decides whether a rule runs at all.
type RuleFilter interface {
	ShouldExtract(service, kind string) bool
}

// Recorder receives per-rule statistics and anomalies, typically for metrics.
type Recorder interface {
	RecordRule(ctx context.Context, stats RuleStats)
	RecordAnomaly(ctx context.Context, a Anomaly)
}

// RuleStats summarizes one rule run in one region.
type RuleStats struct {
	Service   string        `json:"service"`
	Region    string        `json:"region,omitempty"`
	Rule      string        `json:"rule"`
	Kind      string        `json:"kind"`
	Items     int           `json:"items"`
	Resources int           `json:"resources"`
	Relations int           `json:"relations"`
	Anomalies int           `json:"anomalies"`
	Failed    bool          `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Result is the outcome of one extraction pass.
type Result struct {
	Graph     resource.Graph
	Anomalies []Anomaly
	Rules     []RuleStats
}

// AnomalyCount counts anomalies of the given kind.
func (r *Result) AnomalyCount(kind AnomalyKind) int {
	n := 0
	for _, a := range r.Anomalies {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Engine runs rule sets against a Source.
type Engine struct {
	logger      zerolog.Logger
	tracer      trace.Tracer
	concurrency int
	regions     []string
	filter      RuleFilter
	recorder    Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for anomalies.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConcurrency bounds the number of rules running at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithRegions sets the regions to enumerate. Non-regional services use
// the first one only. Without regions, ids are not region-scoped.
func WithRegions(regions ...string) Option {
	return func(e *Engine) { e.regions = regions }
}

// WithFilter skips rules the filter rejects.
func WithFilter(f RuleFilter) Option {
	return func(e *Engine) { e.filter = f }
}

// WithRecorder reports rule statistics and anomalies.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an extraction engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:      log.Logger,
		tracer:      otel.Tracer("reclaim/extract"),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type task struct {
	service  string
	region   string
	regional bool
	name     string
	style    Style
	rule     Rule
}

func (t task) query() Query {
	return Query{
		Service:      t.service,
		Region:       t.region,
		Rule:         t.name,
		Style:        t.style,
		Iterator:     t.rule.Iterator,
		ResourcesKey: t.rule.ResourcesKey,
	}
}

// scope prefixes a raw id with the task region for regional services.
func (t task) scope(rawID string, global bool) string {
	if global || !t.regional || t.region == "" {
		return rawID
	}
	return t.region + "/" + rawID
}

func (t task) anomaly(kind AnomalyKind, field, detail string) Anomaly {
	return Anomaly{
		Kind:    kind,
		Service: t.service,
		Region:  t.region,
		Rule:    t.name,
		Field:   field,
		Detail:  detail,
	}
}

// plan expands the rule set into tasks in a stable order.
func (e *Engine) plan(rules RuleSet) []task {
	regions := e.regions
	if len(regions) == 0 {
		regions = []string{""}
	}

	var tasks []task
	for _, service := range rules.Services() {
		svc := rules[service]
		serviceRegions := regions
		if !svc.IsRegional() {
			serviceRegions = regions[:1]
		}

		for _, group := range []struct {
			style Style
			rules map[string]Rule
		}{
			{StyleCollection, svc.Collections},
			{StylePaginator, svc.Paginators},
		} {
			names := make([]string, 0, len(group.rules))
			for name := range group.rules {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				rule := group.rules[name]
				if e.filter != nil && !e.filter.ShouldExtract(service, rule.Type) {
					continue
				}
				for _, region := range serviceRegions {
					tasks = append(tasks, task{
						service:  service,
						region:   region,
						regional: svc.IsRegional(),
						name:     name,
						style:    group.style,
						rule:     rule,
					})
				}
			}
		}
	}
	return tasks
}

// Run executes every rule against src and returns the collected graph.
// Rule failures become anomalies; only cancellation makes Run fail.
func (e *Engine) Run(ctx context.Context, rules RuleSet, src Source) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "extract.Run")
	defer span.End()

	tasks := e.plan(rules)
	collector := resource.NewCollector()
	anomalies := &anomalyLog{}

	var (
		mu    sync.Mutex
		stats = make([]RuleStats, 0, len(tasks))
	)

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s := e.runTask(ctx, t, src, collector, anomalies)
			mu.Lock()
			stats = append(stats, s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Region < b.Region
	})

	result := &Result{
		Graph:     collector.Graph(),
		Anomalies: anomalies.list(),
		Rules:     stats,
	}

	resources, relations := result.Graph.Len()
	span.SetAttributes(
		attribute.Int("extract.tasks", len(tasks)),
		attribute.Int("extract.resources", resources),
		attribute.Int("extract.relations", relations),
		attribute.Int("extract.anomalies", len(result.Anomalies)),
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("extraction interrupted: %w", err)
	}
	return result, nil
}

func (e *Engine) runTask(ctx context.Context, t task, src Source, sink *resource.Collector, anomalies *anomalyLog) RuleStats {
	ctx, span := e.tracer.Start(ctx, "extract.rule", trace.WithAttributes(
		attribute.String("service", t.service),
		attribute.String("region", t.region),
		attribute.String("rule", t.name),
	))
	defer span.End()

	start := time.Now()
	stats := RuleStats{Service: t.service, Region: t.region, Rule: t.name, Kind: t.rule.Type}
	report := func(a Anomaly) {
		stats.Anomalies++
		anomalies.add(a)
		e.logAnomaly(a)
		if e.recorder != nil {
			e.recorder.RecordAnomaly(ctx, a)
		}
	}
	defer func() {
		stats.Duration = time.Since(start)
		if e.recorder != nil {
			e.recorder.RecordRule(ctx, stats)
		}
	}()

	if err := t.rule.Validate(t.style); err != nil {
		stats.Failed = true
		report(t.anomaly(AnomalyConfiguration, "", err.Error()))
		return stats
	}

	for item, err := range src.Items(ctx, t.query()) {
		if err != nil {
			stats.Failed = true
			span.RecordError(err)
			span.SetStatus(codes.Error, "provider failure")
			report(t.anomaly(AnomalyProviderFailure, "", err.Error()))
			break
		}
		stats.Items++
		e.extractItem(t, item, func(it resource.Item) {
			switch it.(type) {
			case resource.Resource:
				stats.Resources++
			case resource.Relation:
				stats.Relations++
			}
			sink.Emit(it)
		}, report)
	}
	return stats
}

// extractItem emits the resource for one raw item followed by its relations.
func (e *Engine) extractItem(t task, item any, emit func(resource.Item), report func(Anomaly)) {
	rule := t.rule

	rawID := scalarString(fieldpath.GetOr(item, rule.IdentifierPath(), nil))
	if rawID == "" {
		report(t.anomaly(AnomalyMissingIdentity, rule.IdentifierPath(), "identifier not resolved, item dropped"))
		return
	}

	res := resource.Resource{
		Kind:             rule.Type,
		ID:               t.scope(rawID, false),
		Created:          NormalizeTime(fieldpath.GetOr(item, rule.CreatedPath(), nil)),
		Properties:       properties(rule, item),
		Used:             rule.Used.Eval(item, false),
		CleanupCandidate: rule.Cleanup.Eval(item, true),
	}
	emit(res)

	for _, field := range rule.ReferenceFields() {
		ref := rule.References[field]
		for _, id := range referenceIDs(item, field, ref) {
			if ref.Type == "" || id == "" {
				if !ref.IgnoreMissing {
					report(t.anomaly(AnomalyMissingReference, field,
						fmt.Sprintf("reference from %s has no type or identifier", res.URID())))
				}
				continue
			}

			rel := resource.Relation{
				Source:     res.URID(),
				Target:     resource.NewURID(ref.Type, t.scope(id, ref.Global)),
				Dependency: ref.IsDependency(),
			}
			if ref.Reverse {
				rel.Source, rel.Target = rel.Target, rel.Source
			}
			emit(rel)
		}
	}
}

// referenceIDs resolves every candidate identifier of one reference field.
// Unresolvable candidates yield "" so the caller can report them.
func referenceIDs(item any, field string, ref Reference) []string {
	raw, err := fieldpath.Get(item, field)
	if err != nil {
		return nil
	}

	var candidates []any
	if ref.ReferencePath == "" {
		candidates = fieldpath.Flatten(raw)
	} else {
		for _, elem := range fieldpath.Flatten(raw) {
			nested, err := fieldpath.Get(elem, ref.ReferencePath)
			if err != nil {
				candidates = append(candidates, nil)
				continue
			}
			flat := fieldpath.Flatten(nested)
			if len(flat) == 0 {
				candidates = append(candidates, nil)
				continue
			}
			candidates = append(candidates, flat...)
		}
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if fieldpath.IsScalar(c) {
			ids = append(ids, scalarString(c))
			continue
		}
		ids = append(ids, scalarString(fieldpath.GetOr(c, ref.IdentifierPath(), nil)))
	}
	return ids
}

func (e *Engine) logAnomaly(a Anomaly) {
	ev := e.logger.Warn()
	if a.Kind == AnomalyProviderFailure {
		ev = e.logger.Error()
	}
	ev.Str("anomaly", string(a.Kind)).
		Str("service", a.Service).
		Str("region", a.Region).
		Str("rule", a.Rule).
		Str("field", a.Field).
		Msg(a.Detail)
}
