package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Factory is a constructor function that creates a new Provider instance.
type Factory func(opts Options) (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a provider factory available under a kind name.
// It is typically called from an init() function in the adapter package.
func Register(kind string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("provider: duplicate registration for %q", kind))
	}
	factories[kind] = factory
}

// New creates a new Provider of the given kind using the registered factory.
func New(kind string, opts Options) (Provider, error) {
	mu.RLock()
	factory, ok := factories[kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("provider: unknown kind %q", kind)
	}
	return factory(opts)
}

// Available returns the sorted names of all registered kinds.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
