package resource

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURID(t *testing.T) {
	id := NewURID("aws.ec2.instance", "us-east-1/i-123")

	assert.Equal(t, URID("aws.ec2.instance://us-east-1/i-123"), id)
	assert.Equal(t, "aws.ec2.instance", id.Kind())
	assert.Equal(t, "us-east-1/i-123", id.ID())
	require.NoError(t, id.Validate())
}

func TestURID_Validate(t *testing.T) {
	tests := []struct {
		name string
		id   URID
	}{
		{"empty", ""},
		{"no separator", "aws.ec2.instance"},
		{"empty kind", "://i-123"},
		{"empty id", "aws.ec2.instance://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedURID)
		})
	}
}

func TestResource_IdentityIgnoresContent(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	a := Resource{Kind: "aws.ec2.volume", ID: "vol-1", Created: &first, Properties: map[string]any{"Size": 10}}
	b := Resource{Kind: "aws.ec2.volume", ID: "vol-1", Created: &second, Properties: map[string]any{"Size": 20}}

	assert.Equal(t, a.URID(), b.URID())

	g := Graph{Resources: []Resource{a, b}}
	index := g.Index()
	require.Len(t, index, 1)
	assert.Equal(t, 20, index[a.URID()].Properties["Size"])
}

func TestResource_Tags(t *testing.T) {
	r := Resource{Properties: map[string]any{"Tags": map[string]string{"app": "web"}}}
	assert.Equal(t, map[string]string{"app": "web"}, r.Tags())

	r = Resource{Properties: map[string]any{"Tags": map[string]any{"app": "web", "n": 1}}}
	assert.Equal(t, map[string]string{"app": "web", "n": "1"}, r.Tags())

	assert.Nil(t, Resource{}.Tags())
}

func TestRelation_String(t *testing.T) {
	dep := Relation{Source: "a://1", Target: "b://2", Dependency: true}
	assoc := Relation{Source: "a://1", Target: "b://2"}

	assert.Equal(t, "a://1 -> b://2", dep.String())
	assert.Equal(t, "a://1 -- b://2", assoc.String())
}

func TestSet(t *testing.T) {
	s := NewSet("b://2", "a://1")

	assert.True(t, s.Has("a://1"))
	assert.False(t, s.Has("c://3"))
	assert.False(t, s.Add("a://1"))
	assert.True(t, s.Add("c://3"))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []URID{"a://1", "b://2", "c://3"}, s.Sorted())
}

func TestFromItems(t *testing.T) {
	items := []Item{
		Resource{Kind: "k", ID: "1"},
		Relation{Source: "k://1", Target: "k://2", Dependency: true},
		Resource{Kind: "k", ID: "2"},
	}

	g := FromItems(items)
	resources, relations := g.Len()
	assert.Equal(t, 2, resources)
	assert.Equal(t, 1, relations)
	assert.Equal(t, []Resource{{Kind: "k", ID: "1"}, {Kind: "k", ID: "2"}}, g.Resources)
}

func TestCollector_ConcurrentEmit(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("%d-%d", i, j)
				c.Emit(Resource{Kind: "k", ID: id})
				c.Emit(Relation{Source: NewURID("k", id), Target: "k://root", Dependency: true})
			}
		}(i)
	}
	wg.Wait()

	resources, relations := c.Graph().Len()
	assert.Equal(t, 500, resources)
	assert.Equal(t, 500, relations)
}
