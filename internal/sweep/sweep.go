// Package sweep computes which discovered resources can be reclaimed.
//
// Marking starts from the root set and follows dependency relations to a
// fixed point. Every cleanup candidate left unmarked is reclaimable.
// Association relations never protect anything.
package sweep

import (
	"fmt"

	"github.com/yairfalse/reclaim/pkg/resource"
)

// Result is the outcome of one sweep.
type Result struct {
	// Kept holds every resource reachable from the roots.
	Kept resource.Set
	// Reclaimable holds the unmarked cleanup candidates and the relations
	// whose endpoints are both reclaimable.
	Reclaimable resource.Graph
	// IgnoredRoots lists roots that were not discovered in this pass.
	IgnoredRoots []resource.URID
}

// Sweep marks everything reachable from roots over dependency relations
// and returns the unmarked cleanup candidates. It fails only when an
// identity is malformed.
func Sweep(g resource.Graph, roots []resource.URID) (*Result, error) {
	index := make(map[resource.URID]resource.Resource, len(g.Resources))
	for _, r := range g.Resources {
		id := r.URID()
		if err := id.Validate(); err != nil {
			return nil, fmt.Errorf("resource: %w", err)
		}
		index[id] = r
	}

	adjacency := make(map[resource.URID][]resource.URID)
	for _, rel := range g.Relations {
		if err := validateRelation(rel); err != nil {
			return nil, err
		}
		if !rel.Dependency {
			continue
		}
		adjacency[rel.Source] = append(adjacency[rel.Source], rel.Target)
	}

	result := &Result{Kept: resource.NewSet()}

	var frontier []resource.URID
	for _, root := range roots {
		if err := root.Validate(); err != nil {
			return nil, fmt.Errorf("root: %w", err)
		}
		if _, ok := index[root]; !ok {
			result.IgnoredRoots = append(result.IgnoredRoots, root)
			continue
		}
		if result.Kept.Add(root) {
			frontier = append(frontier, root)
		}
	}

	// Undiscovered identities are traversed but never kept.
	visited := resource.NewSet(frontier...)
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, next := range adjacency[id] {
			if !visited.Add(next) {
				continue
			}
			if _, ok := index[next]; ok {
				result.Kept.Add(next)
			}
			frontier = append(frontier, next)
		}
	}

	reclaimable := resource.NewSet()
	for _, r := range g.Resources {
		id := r.URID()
		latest := index[id]
		if !latest.CleanupCandidate || result.Kept.Has(id) || !reclaimable.Add(id) {
			continue
		}
		result.Reclaimable.Resources = append(result.Reclaimable.Resources, latest)
	}

	for _, rel := range g.Relations {
		if reclaimable.Has(rel.Source) && reclaimable.Has(rel.Target) {
			result.Reclaimable.Relations = append(result.Reclaimable.Relations, rel)
		}
	}

	return result, nil
}

func validateRelation(rel resource.Relation) error {
	for _, id := range []resource.URID{rel.Source, rel.Target} {
		if err := id.Validate(); err != nil {
			return fmt.Errorf("relation %s: %w", rel, err)
		}
	}
	return nil
}
