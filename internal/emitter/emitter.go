// Package emitter defines the output interface for sweep reports.
package emitter

import (
	"context"
	"sort"
	"time"

	"github.com/yairfalse/reclaim/internal/extract"
	"github.com/yairfalse/reclaim/internal/roots"
	"github.com/yairfalse/reclaim/pkg/resource"
)

// Report is the outcome of one collection cycle.
type Report struct {
	PassID   string        `json:"pass_id"`
	Revision int64         `json:"revision,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Regions  []string      `json:"regions,omitempty"`

	// Discovered is the full graph the sweep ran on.
	Discovered resource.Graph      `json:"-"`
	Anomalies  []extract.Anomaly   `json:"anomalies,omitempty"`
	Rules      []extract.RuleStats `json:"rules,omitempty"`

	Roots        []roots.Root    `json:"roots"`
	IgnoredRoots []resource.URID `json:"ignored_roots,omitempty"`
	Kept         int             `json:"kept"`
	Reclaimable  resource.Graph  `json:"reclaimable"`
}

// ReclaimableByKind counts reclaimable resources per kind.
func (r Report) ReclaimableByKind() map[string]int {
	out := make(map[string]int)
	for _, res := range r.Reclaimable.Resources {
		out[res.Kind]++
	}
	return out
}

// Kinds returns the sorted kinds present in the discovered graph.
func (r Report) Kinds() []string {
	seen := make(map[string]struct{})
	for _, res := range r.Discovered.Resources {
		seen[res.Kind] = struct{}{}
	}
	kinds := make([]string, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Emitter outputs sweep reports to a backend.
type Emitter interface {
	// Emit sends a report to the backend.
	Emit(ctx context.Context, report Report) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, returns first error.
func (m *MultiEmitter) Emit(ctx context.Context, report Report) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, report); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			return err
		}
	}
	return nil
}
