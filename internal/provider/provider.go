// Package provider keeps the registry of cloud providers reclaim can
// enumerate. Provider packages register themselves from init.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/yairfalse/reclaim/internal/extract"
)

// ErrUnknownProvider is returned by Open for unregistered names.
var ErrUnknownProvider = errors.New("unknown provider")

// Options carries the account settings a provider connects with.
type Options struct {
	Profile string
	Regions []string
}

// Factory connects to a provider and returns its item source.
type Factory func(ctx context.Context, opts Options) (extract.Source, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register adds a provider factory. A later registration under the same
// name replaces the earlier one.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Open connects to the named provider.
func Open(ctx context.Context, name string, opts Options) (extract.Source, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	src, err := f(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s provider: %w", name, err)
	}
	return src, nil
}

// Names returns the registered provider names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a provider. Used for testing.
func Unregister(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(registry, name)
}
