package resource

import (
	"slices"
	"sync"
)

// Set is a set of resource identities.
type Set map[URID]struct{}

// NewSet creates a set holding the given identities.
func NewSet(ids ...URID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether it was new.
func (s Set) Add(id URID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has reports whether id is in the set.
func (s Set) Has(id URID) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of identities.
func (s Set) Len() int {
	return len(s)
}

// Sorted returns the identities in lexical order.
func (s Set) Sorted() []URID {
	out := make([]URID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Graph is an unordered collection of resources and relations.
type Graph struct {
	Resources []Resource `json:"resources"`
	Relations []Relation `json:"relations"`
}

// Index returns resources keyed by identity. When an identity was
// observed more than once the last observation wins.
func (g Graph) Index() map[URID]Resource {
	index := make(map[URID]Resource, len(g.Resources))
	for _, r := range g.Resources {
		index[r.URID()] = r
	}
	return index
}

// Len returns the number of resources and relations.
func (g Graph) Len() (resources, relations int) {
	return len(g.Resources), len(g.Relations)
}

// FromItems splits a stream of items into a graph.
func FromItems(items []Item) Graph {
	var g Graph
	for _, item := range items {
		switch v := item.(type) {
		case Resource:
			g.Resources = append(g.Resources, v)
		case Relation:
			g.Relations = append(g.Relations, v)
		}
	}
	return g
}

// Collector gathers items from concurrent producers.
type Collector struct {
	mu    sync.Mutex
	items []Item
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Emit records an item. Safe for concurrent use.
func (c *Collector) Emit(item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
}

// Graph returns a copy of everything collected so far.
func (c *Collector) Graph() Graph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FromItems(c.items)
}
