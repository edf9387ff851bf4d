package model

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator produces a default value for an attribute at create time.
type Generator func() any

// UUID generates a random version 4 UUID string.
var UUID Generator = func() any { return uuid.NewString() }

// Now generates the current UTC time in RFC 3339 format.
var Now Generator = func() any { return time.Now().UTC().Format(time.RFC3339Nano) }

var (
	generators   = map[string]Generator{"uuid": UUID, "now": Now}
	generatorsMu sync.RWMutex
)

// RegisterGenerator makes a generator available to file based definitions
// under name. It replaces any generator of the same name.
func RegisterGenerator(name string, g Generator) {
	if name == "" || g == nil {
		panic("generator name and function are required")
	}
	generatorsMu.Lock()
	defer generatorsMu.Unlock()
	generators[name] = g
}

// LookupGenerator returns the generator registered under name.
func LookupGenerator(name string) (Generator, error) {
	generatorsMu.RLock()
	defer generatorsMu.RUnlock()
	g, ok := generators[name]
	if !ok {
		return nil, fmt.Errorf("unknown generator %q", name)
	}
	return g, nil
}

// GeneratorNames returns the sorted names of the registered generators.
func GeneratorNames() []string {
	generatorsMu.RLock()
	defer generatorsMu.RUnlock()
	names := make([]string, 0, len(generators))
	for n := range generators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func asGenerator(v any) (Generator, bool) {
	switch g := v.(type) {
	case Generator:
		return g, g != nil
	case func() any:
		return Generator(g), g != nil
	case func() string:
		return func() any { return g() }, g != nil
	}
	return nil, false
}
