package orchestrator

import (
	"context"

	"github.com/yairfalse/reclaim/internal/extract"
	"github.com/yairfalse/reclaim/internal/roots"
	"github.com/yairfalse/reclaim/internal/store"
	"github.com/yairfalse/reclaim/pkg/resource"
)

// Discoverer runs one extraction pass. *extract.Engine implements it.
type Discoverer interface {
	Run(ctx context.Context, rules extract.RuleSet, src extract.Source) (*extract.Result, error)
}

// RootBuilder computes the root set of a graph. *roots.Builder implements it.
type RootBuilder interface {
	Build(ctx context.Context, g resource.Graph) ([]roots.Root, error)
}

// AccountSource is a source that can name the account it enumerates.
// The AWS source implements it.
type AccountSource interface {
	AccountID(ctx context.Context) (string, error)
}

// Snapshots persists discovered graphs. *store.Store implements it.
type Snapshots interface {
	Save(g resource.Graph, meta store.Meta) (store.Info, error)
	Load(rev int64) (*store.Snapshot, error)
	Latest() (*store.Snapshot, error)
	Compact(keep int) (int, error)
}

// ReportFilter narrows the reclaimable graph before it is reported.
// *filter.Filter implements it.
type ReportFilter interface {
	FilterGraph(g resource.Graph) resource.Graph
}

// Discovery is the outcome of a discovery pass.
type Discovery struct {
	PassID   string
	Account  string
	Revision int64
	Result   *extract.Result
}
