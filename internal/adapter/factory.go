// Package adapter holds the datastore adapters the ORM binds models to.
// Each adapter registers a factory from init(); datastores select one by name.
package adapter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// Factory is the Strategy interface for creating adapters. Each backend
// (memory, sql, redis, dynamodb) implements it and registers itself.
type Factory interface {
	// Type returns the adapter name datastores refer to (e.g., "sql", "redis").
	Type() string

	// Create returns a new, unconnected adapter instance.
	Create() (core.Adapter, error)

	// Validate checks the datastore configuration specific to this adapter.
	Validate(config core.DatastoreConfig) error
}

var (
	// factoryRegistry stores all registered adapter factories.
	factoryRegistry = make(map[string]Factory)

	// registryMutex protects the registry from concurrent access.
	registryMutex sync.RWMutex
)

// RegisterFactory registers an adapter factory.
// This is called automatically by each implementation's init() function.
func RegisterFactory(factory Factory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for adapter %q is already registered", factory.Type()))
	}

	factoryRegistry[factory.Type()] = factory
}

// New creates an adapter instance using the factory registered under name.
func New(name string) (core.Adapter, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: adapter name is required", core.ErrUnknownAdapter)
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[name]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownAdapter, name)
	}
	return factory.Create()
}

// Validate checks a datastore configuration with the factory of its adapter.
func Validate(config core.DatastoreConfig) error {
	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Adapter]
	registryMutex.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", core.ErrUnknownAdapter, config.Adapter)
	}
	if err := factory.Validate(config); err != nil {
		return fmt.Errorf("invalid configuration for %s: %w", config.Adapter, err)
	}
	return nil
}

// RegisteredTypes returns the sorted names of all registered adapters.
func RegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsRegistered checks if an adapter name is registered.
func IsRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[name]
	return exists
}
