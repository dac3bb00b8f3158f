package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/reclaim/pkg/resource"
)

func mustFilter(t *testing.T, opts Options) *Filter {
	t.Helper()
	f, err := New(opts)
	require.NoError(t, err)
	return f
}

func tagged(id string, tags map[string]string) resource.Resource {
	return resource.Resource{Kind: "aws.ec2.instance", ID: id, Properties: map[string]any{"Tags": tags}}
}

func TestShouldExtract_NoExclusions(t *testing.T) {
	f := mustFilter(t, Options{})
	assert.True(t, f.ShouldExtract("ec2", "aws.ec2.instance"))
	assert.True(t, f.ShouldExtract("rds", "aws.rds.db_instance"))
}

func TestShouldExtract_WithExclusions(t *testing.T) {
	f := mustFilter(t, Options{
		ExcludeKinds:    []string{"aws.iam.*", "aws.ec2.key_pair"},
		ExcludeServices: []string{"logs"},
	})

	assert.True(t, f.ShouldExtract("ec2", "aws.ec2.instance"))
	assert.False(t, f.ShouldExtract("ec2", "aws.ec2.key_pair"))
	assert.False(t, f.ShouldExtract("iam", "aws.iam.role"))
	assert.False(t, f.ShouldExtract("logs", "aws.logs.log_group"))
}

func TestShouldExtract_GlobStopsAtSeparator(t *testing.T) {
	f := mustFilter(t, Options{ExcludeKinds: []string{"aws.*"}})
	assert.True(t, f.ShouldExtract("ec2", "aws.ec2.instance"))

	f = mustFilter(t, Options{ExcludeKinds: []string{"aws.**"}})
	assert.False(t, f.ShouldExtract("ec2", "aws.ec2.instance"))
}

func TestNew_BadPattern(t *testing.T) {
	_, err := New(Options{ExcludeKinds: []string{"aws.[ec2"}})
	assert.Error(t, err)
}

func TestShouldIncludeResource_NoFilters(t *testing.T) {
	f := mustFilter(t, Options{})
	assert.True(t, f.ShouldIncludeResource(tagged("i-123", map[string]string{"env": "prod"})))
}

func TestShouldIncludeResource_IncludeTags(t *testing.T) {
	f := mustFilter(t, Options{IncludeTags: map[string]string{"env": "prod", "team": "platform"}})

	assert.True(t, f.ShouldIncludeResource(tagged("i-1", map[string]string{"env": "prod", "team": "platform"})))
	assert.False(t, f.ShouldIncludeResource(tagged("i-2", map[string]string{"env": "prod"})))
	assert.False(t, f.ShouldIncludeResource(tagged("i-3", map[string]string{})))
	assert.False(t, f.ShouldIncludeResource(resource.Resource{Kind: "aws.ec2.instance", ID: "i-4"}))
}

func TestShouldIncludeResource_ExcludeTags_AnyMatch(t *testing.T) {
	f := mustFilter(t, Options{ExcludeTags: map[string]string{"skip": "true", "ignore": "yes"}})

	assert.False(t, f.ShouldIncludeResource(tagged("i-1", map[string]string{"skip": "true"})))
	assert.False(t, f.ShouldIncludeResource(tagged("i-2", map[string]string{"ignore": "yes"})))
	assert.True(t, f.ShouldIncludeResource(tagged("i-3", map[string]string{"env": "prod"})))
	assert.True(t, f.ShouldIncludeResource(resource.Resource{Kind: "aws.ec2.instance", ID: "i-4"}))
}

func TestShouldIncludeResource_BothIncludeAndExclude(t *testing.T) {
	f := mustFilter(t, Options{
		IncludeTags: map[string]string{"env": "prod"},
		ExcludeTags: map[string]string{"skip": "true"},
	})

	assert.True(t, f.ShouldIncludeResource(tagged("i-1", map[string]string{"env": "prod"})))
	assert.False(t, f.ShouldIncludeResource(tagged("i-2", map[string]string{"env": "prod", "skip": "true"})))
	assert.False(t, f.ShouldIncludeResource(tagged("i-3", map[string]string{"env": "staging"})))
}

func TestFilterGraph(t *testing.T) {
	f := mustFilter(t, Options{ExcludeTags: map[string]string{"skip": "true"}})
	g := resource.Graph{
		Resources: []resource.Resource{
			tagged("i-1", nil),
			tagged("i-2", map[string]string{"skip": "true"}),
			tagged("i-3", nil),
		},
		Relations: []resource.Relation{
			{Source: "aws.ec2.instance://i-1", Target: "aws.ec2.instance://i-2"},
			{Source: "aws.ec2.instance://i-1", Target: "aws.ec2.instance://i-3"},
		},
	}

	out := f.FilterGraph(g)
	require.Len(t, out.Resources, 2)
	assert.Equal(t, "i-1", out.Resources[0].ID)
	assert.Equal(t, "i-3", out.Resources[1].ID)
	assert.Equal(t, []resource.Relation{g.Relations[1]}, out.Relations)

	assert.Equal(t, g, mustFilter(t, Options{}).FilterGraph(g))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, mustFilter(t, Options{}).IsEmpty())
	assert.False(t, mustFilter(t, Options{ExcludeKinds: []string{"aws.ec2.*"}}).IsEmpty())
	assert.False(t, mustFilter(t, Options{ExcludeServices: []string{"iam"}}).IsEmpty())
	assert.False(t, mustFilter(t, Options{IncludeTags: map[string]string{"env": "prod"}}).IsEmpty())
	assert.False(t, mustFilter(t, Options{ExcludeTags: map[string]string{"skip": "true"}}).IsEmpty())
}
