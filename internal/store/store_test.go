package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/reclaim/pkg/resource"
)

func testGraph(ids ...string) resource.Graph {
	var g resource.Graph
	for _, id := range ids {
		g.Resources = append(g.Resources, resource.Resource{
			Kind:             "aws.ec2.volume",
			ID:               id,
			CleanupCandidate: true,
			Properties: map[string]any{
				"Size": float64(8),
				"Tags": map[string]string{"team": "infra"},
			},
		})
	}
	if len(ids) > 1 {
		g.Relations = append(g.Relations, resource.Relation{
			Source:     resource.NewURID("aws.ec2.volume", ids[0]),
			Target:     resource.NewURID("aws.ec2.volume", ids[1]),
			Dependency: true,
		})
	}
	return g
}

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	s := openStore(t, t.TempDir())
	taken := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return taken }

	info, err := s.Save(testGraph("us-east-1/vol-1", "us-east-1/vol-2"), Meta{Regions: []string{"us-east-1"}, Anomalies: 2})
	require.NoError(t, err)

	assert.Equal(t, int64(1), info.Revision)
	assert.NotEmpty(t, info.PassID)
	assert.Equal(t, 2, info.Resources)
	assert.Equal(t, 1, info.Relations)
	assert.Equal(t, taken, info.Taken)

	snap, err := s.Load(1)
	require.NoError(t, err)
	assert.Equal(t, info.PassID, snap.PassID)
	assert.Equal(t, []string{"us-east-1"}, snap.Meta.Regions)
	assert.Equal(t, 2, snap.Meta.Anomalies)
	require.Len(t, snap.Graph.Resources, 2)
	assert.Equal(t, resource.NewURID("aws.ec2.volume", "us-east-1/vol-1"), snap.Graph.Resources[0].URID())
	assert.Equal(t, map[string]string{"team": "infra"}, snap.Graph.Resources[0].Tags())
	assert.True(t, snap.Graph.Resources[0].CleanupCandidate)
	assert.Equal(t, testGraph("us-east-1/vol-1", "us-east-1/vol-2").Relations, snap.Graph.Relations)
}

func TestSave_KeepsCallerPassID(t *testing.T) {
	s := openStore(t, t.TempDir())

	info, err := s.Save(testGraph("a"), Meta{PassID: "pass-7", Account: "123456789012"})
	require.NoError(t, err)
	assert.Equal(t, "pass-7", info.PassID)
	assert.Empty(t, info.Meta.PassID)

	snap, err := s.Load(info.Revision)
	require.NoError(t, err)
	assert.Equal(t, "pass-7", snap.PassID)
	assert.Equal(t, "123456789012", snap.Meta.Account)
	assert.Equal(t, []Info{info}, s.List())
}

func TestLoad_NotFound(t *testing.T) {
	s := openStore(t, t.TempDir())

	_, err := s.Load(7)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Latest()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestAndList(t *testing.T) {
	s := openStore(t, t.TempDir())

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Save(testGraph(id), Meta{})
		require.NoError(t, err)
	}

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Revision)
	assert.Equal(t, "c", latest.Graph.Resources[0].ID)

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{list[0].Revision, list[1].Revision, list[2].Revision})
	assert.NotEqual(t, list[0].PassID, list[1].PassID)
}

func TestReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.Save(testGraph("a"), Meta{})
	require.NoError(t, err)
	_, err = s.Save(testGraph("b"), Meta{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openStore(t, dir)
	assert.Equal(t, int64(2), reopened.CurrentRevision())
	assert.Len(t, reopened.List(), 2)

	info, err := reopened.Save(testGraph("c"), Meta{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Revision)
}

func TestCompact(t *testing.T) {
	s := openStore(t, t.TempDir())
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.Save(testGraph(id), Meta{})
		require.NoError(t, err)
	}

	removed, err := s.Compact(2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, int64(4), list[0].Revision)
	assert.Equal(t, int64(3), list[1].Revision)

	_, err = s.Load(1)
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err = s.Compact(5)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = s.Compact(0)
	assert.Error(t, err)

	info, err := s.Save(testGraph("e"), Meta{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Revision)
}

func TestCompact_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Save(testGraph(id), Meta{})
		require.NoError(t, err)
	}
	_, err = s.Compact(1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openStore(t, dir)
	list := reopened.List()
	require.Len(t, list, 1)
	assert.Equal(t, int64(3), list[0].Revision)
}
