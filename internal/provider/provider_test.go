package provider

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/reclaim/internal/extract"
)

// mockSource yields a fixed item for every query.
type mockSource struct {
	item string
}

func (m *mockSource) Items(_ context.Context, _ extract.Query) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		yield(m.item, nil)
	}
}

func factoryFor(item string) Factory {
	return func(context.Context, Options) (extract.Source, error) {
		return &mockSource{item: item}, nil
	}
}

func TestRegisterAndOpen(t *testing.T) {
	Register("test", factoryFor("a"))
	defer Unregister("test")

	src, err := Open(context.Background(), "test", Options{})
	require.NoError(t, err)
	for item, err := range src.Items(context.Background(), extract.Query{}) {
		require.NoError(t, err)
		assert.Equal(t, "a", item)
	}
}

func TestOpen_PassesOptions(t *testing.T) {
	var got Options
	Register("capture", func(_ context.Context, opts Options) (extract.Source, error) {
		got = opts
		return &mockSource{}, nil
	})
	defer Unregister("capture")

	_, err := Open(context.Background(), "capture", Options{Profile: "prod", Regions: []string{"eu-west-1"}})
	require.NoError(t, err)
	assert.Equal(t, Options{Profile: "prod", Regions: []string{"eu-west-1"}}, got)
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(context.Background(), "nonexistent", Options{})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestOpen_FactoryError(t *testing.T) {
	boom := errors.New("no credentials")
	Register("broken", func(context.Context, Options) (extract.Source, error) {
		return nil, boom
	})
	defer Unregister("broken")

	_, err := Open(context.Background(), "broken", Options{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "open broken provider")
}

func TestRegister_Overwrites(t *testing.T) {
	Register("dup", factoryFor("first"))
	Register("dup", factoryFor("second"))
	defer Unregister("dup")

	src, err := Open(context.Background(), "dup", Options{})
	require.NoError(t, err)
	for item := range src.Items(context.Background(), extract.Query{}) {
		assert.Equal(t, "second", item)
	}
}

func TestNames(t *testing.T) {
	Register("zeta", factoryFor(""))
	Register("alpha", factoryFor(""))
	defer Unregister("zeta")
	defer Unregister("alpha")

	names := Names()
	assert.Contains(t, names, "alpha")
	assert.Contains(t, names, "zeta")
	assert.IsIncreasing(t, names)
}
