package extract

import (
	"context"
	"iter"
)

// Style tells a Source how a rule enumerates its items.
type Style string

const (
	// StyleCollection enumerates a named resource collection.
	StyleCollection Style = "collection"
	// StylePaginator walks the pages of a list operation and pulls items
	// out of each page with the rule's resources key.
	StylePaginator Style = "paginator"
)

// Query identifies one enumeration against a provider.
type Query struct {
	Service      string
	Region       string
	Rule         string // collection or operation name
	Style        Style
	Iterator     Iterator
	ResourcesKey string
}

// Source yields raw provider items for a query. The sequence stops at the
// first error; the engine records it and moves on to other rules.
type Source interface {
	Items(ctx context.Context, q Query) iter.Seq2[any, error]
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q Query) iter.Seq2[any, error]

// Items calls f.
func (f SourceFunc) Items(ctx context.Context, q Query) iter.Seq2[any, error] {
	return f(ctx, q)
}
