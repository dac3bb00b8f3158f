package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/reclaim/pkg/resource"
)

// Node groups. Kinds are numbered after these, in sorted order.
const (
	GroupUsed        = 0
	GroupReclaimable = 1
	groupKindOffset  = 2
)

// D3Graph is a directed force graph as consumed by d3-force.
type D3Graph struct {
	Nodes []D3Node `json:"nodes"`
	Links []D3Link `json:"links"`
}

// D3Node is one resource.
type D3Node struct {
	Name  string `json:"name"`
	Group int    `json:"group"`
}

// D3Link connects two nodes by index.
type D3Link struct {
	Source int `json:"source"`
	Target int `json:"target"`
	Value  int `json:"value"`
}

// BuildD3 converts a report into a force graph of the discovered
// resources. Relations with an undiscovered endpoint are dropped.
func BuildD3(report Report) D3Graph {
	reclaimable := resource.NewSet()
	for _, r := range report.Reclaimable.Resources {
		reclaimable.Add(r.URID())
	}

	groups := make(map[string]int)
	for i, kind := range report.Kinds() {
		groups[kind] = i + groupKindOffset
	}

	index := report.Discovered.Index()
	all := resource.NewSet()
	for id := range index {
		all.Add(id)
	}
	ids := all.Sorted()

	out := D3Graph{
		Nodes: make([]D3Node, 0, len(ids)),
		Links: []D3Link{},
	}
	position := make(map[resource.URID]int, len(ids))
	for i, id := range ids {
		r := index[id]
		group := groups[r.Kind]
		switch {
		case r.Used:
			group = GroupUsed
		case reclaimable.Has(id):
			group = GroupReclaimable
		}
		out.Nodes = append(out.Nodes, D3Node{Name: string(id), Group: group})
		position[id] = i
	}

	for _, rel := range report.Discovered.Relations {
		src, ok := position[rel.Source]
		if !ok {
			continue
		}
		dst, ok := position[rel.Target]
		if !ok {
			continue
		}
		value := 1
		if !rel.Dependency {
			value = 0
		}
		out.Links = append(out.Links, D3Link{Source: src, Target: dst, Value: value})
	}
	return out
}

// D3Emitter writes each report as a d3 force graph JSON file.
type D3Emitter struct {
	path   string
	logger zerolog.Logger
}

// NewD3Emitter creates an emitter writing to path.
func NewD3Emitter(path string) *D3Emitter {
	return &D3Emitter{path: path, logger: log.Logger}
}

// Emit replaces the file atomically.
func (e *D3Emitter) Emit(_ context.Context, report Report) error {
	data, err := json.MarshalIndent(BuildD3(report), "", "  ")
	if err != nil {
		return fmt.Errorf("encode d3 graph: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(e.path), 0o750); err != nil {
		return fmt.Errorf("create d3 dir: %w", err)
	}
	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write d3 graph: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		return fmt.Errorf("write d3 graph: %w", err)
	}

	e.logger.Debug().Str("path", e.path).Msg("d3 graph written")
	return nil
}

// Close is a no-op for the d3 emitter.
func (e *D3Emitter) Close() error {
	return nil
}
