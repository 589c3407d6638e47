// Package providers maintains the registry of provider adapters. Adapter
// packages register a factory from an init function; the CLI instantiates by
// the provider name in the config file.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/config"
	"github.com/planpilot/planpilot/pkg/engine"
)

// Factory builds a provider from the loaded configuration. The returned
// provider is not yet set up; the caller drives Setup and Teardown.
type Factory func(cfg *config.Config, logger zerolog.Logger) (engine.Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a named factory. Registering the same name twice panics:
// that is a programming error, not a runtime condition.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("provider %q registered twice", name))
	}
	factories[name] = factory
}

// New instantiates the named provider.
func New(name string, cfg *config.Config, logger zerolog.Logger) (engine.Provider, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, engine.NewConfigError(
			fmt.Sprintf("unknown provider %q (available: %v)", name, Names()), nil)
	}
	return factory(cfg, logger)
}

// Names returns the registered provider names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
