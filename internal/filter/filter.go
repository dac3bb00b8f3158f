// Package filter decides which rules run and which reclaimable resources
// get reported.
package filter

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/yairfalse/reclaim/pkg/resource"
)

// Options configures a Filter. Kind and service patterns are globs with
// "." as separator, so "aws.iam.*" excludes every IAM kind.
type Options struct {
	ExcludeKinds    []string
	ExcludeServices []string
	IncludeTags     map[string]string
	ExcludeTags     map[string]string
}

// Filter controls which rules are extracted and which resources are reported.
type Filter struct {
	excludeKinds    []glob.Glob
	excludeServices []glob.Glob
	includeTags     map[string]string
	excludeTags     map[string]string
}

// New compiles the filter patterns.
func New(opts Options) (*Filter, error) {
	kinds, err := compile(opts.ExcludeKinds, '.')
	if err != nil {
		return nil, fmt.Errorf("exclude kinds: %w", err)
	}
	services, err := compile(opts.ExcludeServices)
	if err != nil {
		return nil, fmt.Errorf("exclude services: %w", err)
	}

	return &Filter{
		excludeKinds:    kinds,
		excludeServices: services,
		includeTags:     opts.IncludeTags,
		excludeTags:     opts.ExcludeTags,
	}, nil
}

func compile(patterns []string, separators ...rune) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, separators...)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// ShouldExtract returns true if rules of the given service and kind should run.
func (f *Filter) ShouldExtract(service, kind string) bool {
	return !matchAny(f.excludeServices, service) && !matchAny(f.excludeKinds, kind)
}

// ShouldIncludeResource returns true if the resource passes tag filters.
func (f *Filter) ShouldIncludeResource(r resource.Resource) bool {
	tags := r.Tags()

	// Check include tags (whitelist) - ALL must match
	for k, v := range f.includeTags {
		if tags == nil || tags[k] != v {
			return false
		}
	}

	// Check exclude tags (blacklist) - ANY match excludes
	for k, v := range f.excludeTags {
		if tags != nil && tags[k] == v {
			return false
		}
	}

	return true
}

// FilterGraph returns the resources that pass the tag filters and the
// relations between them.
func (f *Filter) FilterGraph(g resource.Graph) resource.Graph {
	if len(f.includeTags) == 0 && len(f.excludeTags) == 0 {
		return g
	}

	var out resource.Graph
	kept := resource.NewSet()
	for _, r := range g.Resources {
		if f.ShouldIncludeResource(r) {
			out.Resources = append(out.Resources, r)
			kept.Add(r.URID())
		}
	}
	for _, rel := range g.Relations {
		if kept.Has(rel.Source) && kept.Has(rel.Target) {
			out.Relations = append(out.Relations, rel)
		}
	}
	return out
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.excludeKinds) == 0 && len(f.excludeServices) == 0 &&
		len(f.includeTags) == 0 && len(f.excludeTags) == 0
}
