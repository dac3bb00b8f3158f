package sweep

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/reclaim/pkg/resource"
)

func candidate(kind, id string) resource.Resource {
	return resource.Resource{Kind: kind, ID: id, CleanupCandidate: true}
}

func dep(source, target resource.URID) resource.Relation {
	return resource.Relation{Source: source, Target: target, Dependency: true}
}

func assoc(source, target resource.URID) resource.Relation {
	return resource.Relation{Source: source, Target: target}
}

const (
	instance resource.URID = "aws.ec2.instance://i-1"
	volume   resource.URID = "aws.ec2.volume://vol-1"
	snapshot resource.URID = "aws.ec2.snapshot://snap-1"
	group    resource.URID = "aws.ec2.security_group://sg-1"
	orphan   resource.URID = "aws.ec2.volume://vol-2"
)

func sampleGraph() resource.Graph {
	return resource.Graph{
		Resources: []resource.Resource{
			candidate("aws.ec2.instance", "i-1"),
			candidate("aws.ec2.volume", "vol-1"),
			candidate("aws.ec2.snapshot", "snap-1"),
			candidate("aws.ec2.security_group", "sg-1"),
			candidate("aws.ec2.volume", "vol-2"),
		},
		Relations: []resource.Relation{
			dep(instance, volume),
			dep(instance, group),
			assoc(snapshot, volume),
			assoc(snapshot, orphan),
		},
	}
}

func ids(resources []resource.Resource) []resource.URID {
	out := make([]resource.URID, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.URID())
	}
	return out
}

func TestSweep_KeepsReachable(t *testing.T) {
	result, err := Sweep(sampleGraph(), []resource.URID{instance})
	require.NoError(t, err)

	assert.Equal(t, []resource.URID{instance, group, volume}, result.Kept.Sorted())
	assert.ElementsMatch(t, []resource.URID{snapshot, orphan}, ids(result.Reclaimable.Resources))
	assert.Empty(t, result.IgnoredRoots)
}

func TestSweep_AssociationsNeverProtect(t *testing.T) {
	// The snapshot is associated with a kept volume but stays reclaimable.
	result, err := Sweep(sampleGraph(), []resource.URID{instance})
	require.NoError(t, err)

	assert.False(t, result.Kept.Has(snapshot))
	assert.Contains(t, ids(result.Reclaimable.Resources), snapshot)
}

func TestSweep_OutputRelationsInsideReclaimableSet(t *testing.T) {
	result, err := Sweep(sampleGraph(), []resource.URID{instance})
	require.NoError(t, err)

	// snapshot -- volume crosses the boundary; snapshot -- vol-2 does not.
	assert.Equal(t, []resource.Relation{assoc(snapshot, orphan)}, result.Reclaimable.Relations)
}

func TestSweep_NoRoots(t *testing.T) {
	result, err := Sweep(sampleGraph(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Kept.Len())
	assert.Len(t, result.Reclaimable.Resources, 5)
	assert.Len(t, result.Reclaimable.Relations, 4)
}

func TestSweep_NonCandidatesNeverReclaimable(t *testing.T) {
	g := sampleGraph()
	g.Resources[4].CleanupCandidate = false

	result, err := Sweep(g, nil)
	require.NoError(t, err)

	assert.NotContains(t, ids(result.Reclaimable.Resources), orphan)
	assert.Len(t, result.Reclaimable.Relations, 3)
}

func TestSweep_UsedIsNotProtection(t *testing.T) {
	g := resource.Graph{Resources: []resource.Resource{
		{Kind: "aws.ec2.instance", ID: "i-1", Used: true, CleanupCandidate: true},
	}}

	result, err := Sweep(g, nil)
	require.NoError(t, err)
	assert.Equal(t, []resource.URID{instance}, ids(result.Reclaimable.Resources))
}

func TestSweep_UndiscoveredRootsIgnored(t *testing.T) {
	ghost := resource.URID("aws.ec2.instance://i-404")

	result, err := Sweep(sampleGraph(), []resource.URID{ghost, instance, instance})
	require.NoError(t, err)

	assert.Equal(t, []resource.URID{ghost}, result.IgnoredRoots)
	assert.False(t, result.Kept.Has(ghost))
	assert.Equal(t, 3, result.Kept.Len())
}

func TestSweep_DanglingEdges(t *testing.T) {
	ghost := resource.URID("aws.ec2.instance://i-404")
	g := sampleGraph()
	g.Relations = append(g.Relations,
		dep(group, "aws.ec2.vpc://vpc-404"),
		dep("aws.autoscaling.group://asg-404", instance),
		dep(snapshot, ghost),
		dep(ghost, orphan),
	)

	result, err := Sweep(g, []resource.URID{snapshot})
	require.NoError(t, err)

	// snapshot -> i-404 (undiscovered) -> vol-2
	assert.Equal(t, []resource.URID{snapshot, orphan}, result.Kept.Sorted())
	assert.False(t, result.Kept.Has(ghost))
}

func TestSweep_Cycles(t *testing.T) {
	g := resource.Graph{
		Resources: []resource.Resource{
			candidate("aws.ec2.security_group", "sg-1"),
			candidate("aws.ec2.security_group", "sg-2"),
			candidate("aws.ec2.security_group", "sg-3"),
		},
		Relations: []resource.Relation{
			dep("aws.ec2.security_group://sg-1", "aws.ec2.security_group://sg-2"),
			dep("aws.ec2.security_group://sg-2", "aws.ec2.security_group://sg-1"),
			dep("aws.ec2.security_group://sg-3", "aws.ec2.security_group://sg-3"),
		},
	}

	result, err := Sweep(g, []resource.URID{"aws.ec2.security_group://sg-2"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Kept.Len())
	assert.Equal(t, []resource.URID{"aws.ec2.security_group://sg-3"}, ids(result.Reclaimable.Resources))
	assert.Len(t, result.Reclaimable.Relations, 1)
}

func TestSweep_DuplicateObservationsLastWins(t *testing.T) {
	g := resource.Graph{Resources: []resource.Resource{
		candidate("aws.ec2.volume", "vol-1"),
		{Kind: "aws.ec2.volume", ID: "vol-1", CleanupCandidate: false},
		{Kind: "aws.ec2.volume", ID: "vol-2", CleanupCandidate: false},
		candidate("aws.ec2.volume", "vol-2"),
	}}

	result, err := Sweep(g, nil)
	require.NoError(t, err)
	assert.Equal(t, []resource.URID{orphan}, ids(result.Reclaimable.Resources))
}

func TestSweep_EmptyGraph(t *testing.T) {
	result, err := Sweep(resource.Graph{}, []resource.URID{instance})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Kept.Len())
	assert.Empty(t, result.Reclaimable.Resources)
	assert.Equal(t, []resource.URID{instance}, result.IgnoredRoots)
}

func TestSweep_MalformedIdentities(t *testing.T) {
	tests := []struct {
		name  string
		graph resource.Graph
		roots []resource.URID
	}{
		{
			name:  "resource without id",
			graph: resource.Graph{Resources: []resource.Resource{{Kind: "aws.ec2.instance"}}},
		},
		{
			name:  "resource without kind",
			graph: resource.Graph{Resources: []resource.Resource{{ID: "i-1"}}},
		},
		{
			name:  "root",
			graph: sampleGraph(),
			roots: []resource.URID{"i-1"},
		},
		{
			name: "relation",
			graph: resource.Graph{
				Resources: []resource.Resource{candidate("aws.ec2.instance", "i-1")},
				Relations: []resource.Relation{dep(instance, "vol-1")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Sweep(tt.graph, tt.roots)
			require.Error(t, err)
			assert.ErrorIs(t, err, resource.ErrMalformedURID)
			assert.Nil(t, result)
		})
	}
}

func TestSweep_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		g := randomGraph(rng, 30, 60)
		roots := []resource.URID{g.Resources[rng.Intn(len(g.Resources))].URID()}

		result, err := Sweep(g, roots)
		require.NoError(t, err)

		reclaimable := resource.NewSet(ids(result.Reclaimable.Resources)...)
		index := g.Index()
		for id := range reclaimable {
			assert.False(t, result.Kept.Has(id), "kept and reclaimable: %s", id)
			assert.True(t, index[id].CleanupCandidate, "non-candidate reclaimable: %s", id)
		}
		for id, r := range index {
			if r.CleanupCandidate && !result.Kept.Has(id) {
				assert.True(t, reclaimable.Has(id), "unmarked candidate missing: %s", id)
			}
		}
		for _, rel := range result.Reclaimable.Relations {
			assert.True(t, reclaimable.Has(rel.Source) && reclaimable.Has(rel.Target))
		}
		// closure: no dependency edge leaves the kept set towards a discovered resource
		for _, rel := range g.Relations {
			if rel.Dependency && result.Kept.Has(rel.Source) {
				assert.True(t, result.Kept.Has(rel.Target), "edge %s escapes kept set", rel)
			}
		}

		// order of relations does not change the fixed point
		shuffled := g
		shuffled.Relations = append([]resource.Relation(nil), g.Relations...)
		rng.Shuffle(len(shuffled.Relations), func(i, j int) {
			shuffled.Relations[i], shuffled.Relations[j] = shuffled.Relations[j], shuffled.Relations[i]
		})
		again, err := Sweep(shuffled, roots)
		require.NoError(t, err)
		assert.Equal(t, result.Kept.Sorted(), again.Kept.Sorted())
	}
}

func randomGraph(rng *rand.Rand, nodes, edges int) resource.Graph {
	var g resource.Graph
	for i := 0; i < nodes; i++ {
		g.Resources = append(g.Resources, resource.Resource{
			Kind:             "test.node",
			ID:               string(rune('a'+i%26)) + string(rune('0'+i/26)),
			CleanupCandidate: rng.Intn(4) != 0,
		})
	}
	for i := 0; i < edges; i++ {
		src := g.Resources[rng.Intn(nodes)].URID()
		dst := g.Resources[rng.Intn(nodes)].URID()
		g.Relations = append(g.Relations, resource.Relation{Source: src, Target: dst, Dependency: rng.Intn(3) != 0})
	}
	return g
}
