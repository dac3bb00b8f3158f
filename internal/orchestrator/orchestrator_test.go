package orchestrator

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/reclaim/internal/emitter"
	"github.com/yairfalse/reclaim/internal/extract"
	"github.com/yairfalse/reclaim/internal/filter"
	"github.com/yairfalse/reclaim/internal/roots"
	"github.com/yairfalse/reclaim/internal/store"
	"github.com/yairfalse/reclaim/pkg/resource"
)

const testRules = `
ec2:
  collections:
    instances:
      type: aws.ec2.instance
      identifier: InstanceId
      used: {path: State, in: [running]}
      references:
        Volumes: {type: aws.ec2.volume}
    volumes:
      type: aws.ec2.volume
      identifier: VolumeId
`

var testItems = map[string][]any{
	"instances": {
		map[string]any{"InstanceId": "i-1", "State": "running", "Volumes": []any{"vol-1"}},
		map[string]any{"InstanceId": "i-2", "State": "stopped", "Volumes": []any{"vol-2"}},
	},
	"volumes": {
		map[string]any{"VolumeId": "vol-1"},
		map[string]any{"VolumeId": "vol-2"},
		map[string]any{"VolumeId": "vol-3", "Tags": []any{map[string]any{"Key": "keep", "Value": "true"}}},
	},
}

func testSource() extract.Source {
	return extract.SourceFunc(func(_ context.Context, q extract.Query) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			for _, item := range testItems[q.Rule] {
				if !yield(item, nil) {
					return
				}
			}
		}
	})
}

// MockEmitter records reports.
type MockEmitter struct {
	reports []emitter.Report
	err     error
}

func (m *MockEmitter) Emit(_ context.Context, r emitter.Report) error {
	m.reports = append(m.reports, r)
	return m.err
}

func (m *MockEmitter) Close() error { return nil }

func newTestOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	rules, err := extract.ParseRuleSet([]byte(testRules))
	require.NoError(t, err)

	engine := extract.New(extract.WithRegions("us-east-1"))
	builder := roots.NewBuilder(roots.WithProtectUsed(true))
	opts = append([]Option{WithRegions("us-east-1")}, opts...)
	return New(engine, rules, testSource(), builder, opts...)
}

func urids(ids ...string) []resource.URID {
	out := make([]resource.URID, 0, len(ids))
	for _, id := range ids {
		out = append(out, resource.URID(id))
	}
	return out
}

func TestOrchestrator_RunCycle(t *testing.T) {
	mock := &MockEmitter{}
	orch := newTestOrchestrator(t, WithEmitter(mock))

	report, err := orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.PassID)
	assert.Zero(t, report.Revision)
	assert.Equal(t, []string{"us-east-1"}, report.Regions)
	assert.Len(t, report.Discovered.Resources, 5)
	assert.Equal(t, []roots.Root{{URID: "aws.ec2.instance://us-east-1/i-1", Reason: roots.ReasonUsed}}, report.Roots)
	assert.Equal(t, 2, report.Kept)
	assert.Equal(t, urids(
		"aws.ec2.instance://us-east-1/i-2",
		"aws.ec2.volume://us-east-1/vol-2",
		"aws.ec2.volume://us-east-1/vol-3",
	), Reclaimable(report))
	assert.Len(t, report.Rules, 2)

	require.Len(t, mock.reports, 1)
	assert.Equal(t, report.PassID, mock.reports[0].PassID)
}

func TestOrchestrator_ReportFilter(t *testing.T) {
	f, err := filter.New(filter.Options{ExcludeTags: map[string]string{"keep": "true"}})
	require.NoError(t, err)

	orch := newTestOrchestrator(t, WithFilter(f))
	report, err := orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, urids(
		"aws.ec2.instance://us-east-1/i-2",
		"aws.ec2.volume://us-east-1/vol-2",
	), Reclaimable(report))
	assert.Len(t, report.Reclaimable.Relations, 1)
}

func TestOrchestrator_StoreAndSweepSnapshot(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	orch := newTestOrchestrator(t, WithStore(s, 2))

	var last *emitter.Report
	for range 3 {
		last, err = orch.RunCycle(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), last.Revision)
	assert.Len(t, s.List(), 2)

	report, err := orch.SweepSnapshot(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Revision)
	assert.Equal(t, last.PassID, report.PassID)
	assert.Equal(t, Reclaimable(last), Reclaimable(report))

	report, err = orch.SweepSnapshot(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Revision)

	_, err = orch.SweepSnapshot(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// accountSource is a test source that names its account.
type accountSource struct {
	extract.Source
	id  string
	err error
}

func (a accountSource) AccountID(context.Context) (string, error) { return a.id, a.err }

func TestOrchestrator_DiscoverStoresPassAndAccount(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	orch := newTestOrchestrator(t, WithStore(s, 0))
	orch.source = accountSource{Source: testSource(), id: "123456789012"}

	d, err := orch.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Revision)
	assert.Equal(t, "123456789012", d.Account)

	snap, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, d.PassID, snap.PassID)
	assert.Equal(t, "123456789012", snap.Meta.Account)
}

func TestOrchestrator_AccountLookupFailureIsNotFatal(t *testing.T) {
	orch := newTestOrchestrator(t)
	orch.source = accountSource{Source: testSource(), err: errors.New("denied")}

	d, err := orch.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, d.Account)
	assert.NotEmpty(t, d.PassID)
}

func TestOrchestrator_SweepSnapshotWithoutStore(t *testing.T) {
	orch := newTestOrchestrator(t)
	_, err := orch.SweepSnapshot(context.Background(), 0)
	assert.Error(t, err)
}

func TestOrchestrator_NoSource(t *testing.T) {
	rules, err := extract.ParseRuleSet([]byte(testRules))
	require.NoError(t, err)

	orch := New(extract.New(), rules, nil, roots.NewBuilder())
	_, err = orch.RunCycle(context.Background())
	assert.Error(t, err)
}

func TestOrchestrator_CancelledDiscoveryIsNotStored(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	orch := newTestOrchestrator(t, WithStore(s, 5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = orch.RunCycle(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.List())
}

func TestOrchestrator_EmitError(t *testing.T) {
	mock := &MockEmitter{err: errors.New("sink down")}
	orch := newTestOrchestrator(t, WithEmitter(mock))

	report, err := orch.RunCycle(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Len(t, report.Reclaimable.Resources, 3)
}

type failingRoots struct{}

func (failingRoots) Build(context.Context, resource.Graph) ([]roots.Root, error) {
	return nil, errors.New("policy exploded")
}

func TestOrchestrator_RootsError(t *testing.T) {
	rules, err := extract.ParseRuleSet([]byte(testRules))
	require.NoError(t, err)

	orch := New(extract.New(), rules, testSource(), failingRoots{})
	_, err = orch.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build roots")
}
