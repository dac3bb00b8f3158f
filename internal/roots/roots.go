// Package roots builds the root set of a sweep: the resources that are in
// use by definition. Roots come from an application manifest, from the
// intrinsic used signal when asked for, and from an optional Rego policy.
package roots

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/reclaim/pkg/resource"
)

// Reason records why a resource became a root.
type Reason string

const (
	ReasonManifest Reason = "manifest"
	ReasonSelector Reason = "selector"
	ReasonUsed     Reason = "used"
	ReasonPolicy   Reason = "policy"
)

// Root is one member of the root set.
type Root struct {
	URID        resource.URID `json:"urid"`
	Reason      Reason        `json:"reason"`
	Application string        `json:"application,omitempty"`
}

// URIDs returns the identities of roots.
func URIDs(roots []Root) []resource.URID {
	out := make([]resource.URID, 0, len(roots))
	for _, r := range roots {
		out = append(out, r.URID)
	}
	return out
}

// Builder assembles root sets.
type Builder struct {
	manifest    *Manifest
	protectUsed bool
	policy      *Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// Option configures a Builder.
type Option func(*Builder)

// WithManifest adds the resources and selectors of a manifest.
func WithManifest(m *Manifest) Option {
	return func(b *Builder) { b.manifest = m }
}

// WithProtectUsed makes every resource flagged used a root.
func WithProtectUsed(protect bool) Option {
	return func(b *Builder) { b.protectUsed = protect }
}

// WithPolicy makes every resource the policy protects a root.
func WithPolicy(p *Policy) Option {
	return func(b *Builder) { b.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a root set builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		logger: log.Logger,
		tracer: otel.Tracer("reclaim/roots"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the root set for g sorted by identity. A resource matched
// by several sources keeps the first reason in the order manifest,
// selector, used, policy.
func (b *Builder) Build(ctx context.Context, g resource.Graph) ([]Root, error) {
	ctx, span := b.tracer.Start(ctx, "roots.Build")
	defer span.End()

	set := make(map[resource.URID]Root)
	add := func(r Root) {
		if _, ok := set[r.URID]; !ok {
			set[r.URID] = r
		}
	}

	index := g.Index()
	ids := make([]resource.URID, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if b.manifest != nil {
		for _, app := range b.manifest.Applications {
			for _, id := range app.Resources {
				add(Root{URID: id, Reason: ReasonManifest, Application: app.Name})
			}
		}
		for _, app := range b.manifest.Applications {
			for i := range app.Selectors {
				sel := &app.Selectors[i]
				for _, id := range ids {
					if sel.Match(index[id]) {
						add(Root{URID: id, Reason: ReasonSelector, Application: app.Name})
					}
				}
			}
		}
	}

	if b.protectUsed {
		for _, id := range ids {
			if index[id].Used {
				add(Root{URID: id, Reason: ReasonUsed})
			}
		}
	}

	if b.policy != nil {
		for _, id := range ids {
			if _, ok := set[id]; ok {
				continue
			}
			protect, err := b.policy.Protects(ctx, index[id])
			if err != nil {
				span.RecordError(err)
				return nil, fmt.Errorf("root policy for %s: %w", id, err)
			}
			if protect {
				add(Root{URID: id, Reason: ReasonPolicy})
			}
		}
	}

	roots := make([]Root, 0, len(set))
	for _, r := range set {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].URID < roots[j].URID })

	span.SetAttributes(attribute.Int("roots.count", len(roots)))
	b.logger.Debug().Int("roots", len(roots)).Int("resources", len(ids)).Msg("root set built")
	return roots, nil
}
