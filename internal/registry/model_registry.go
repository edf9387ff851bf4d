// Package registry keeps the model definitions a facade has accepted and the
// live models bound to them once the ORM is initialized.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzpsarthak13/persistence/internal/core"
	"github.com/rzpsarthak13/persistence/internal/model"
)

// Entry is a registered model.
type Entry struct {
	// Identity is the registry key.
	Identity string

	// Definition is the definition as registered.
	Definition *model.Definition

	// Model is the live handle, nil until Bind.
	Model *model.Model

	// RegisteredAt is when the definition was first registered.
	RegisteredAt time.Time

	// BoundAt is when the model was last bound, nil while unbound.
	BoundAt *time.Time
}

// ModelRegistry maps identities to definitions and models. It preserves
// registration order and is safe for concurrent use.
type ModelRegistry struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	order     []string
	lifecycle *LifecycleManager
}

// NewModelRegistry creates an empty registry with the given lifecycle manager.
func NewModelRegistry(lifecycle *LifecycleManager) *ModelRegistry {
	if lifecycle == nil {
		lifecycle = NewLifecycleManager()
	}
	return &ModelRegistry{
		entries:   make(map[string]*Entry),
		lifecycle: lifecycle,
	}
}

// Register adds a single definition. See RegisterAll.
func (r *ModelRegistry) Register(ctx context.Context, def *model.Definition) error {
	return r.RegisterAll(ctx, []*model.Definition{def})
}

// RegisterAll registers the definitions atomically: every definition passes
// the register hooks before any is stored, and one failure stores none. A
// definition whose identity is already registered replaces it in place and
// drops its bound model.
func (r *ModelRegistry) RegisterAll(ctx context.Context, defs []*model.Definition) error {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def == nil || def.Identity == "" {
			return fmt.Errorf("%w: model identity is required", core.ErrModelValidation)
		}
		if seen[def.Identity] {
			return fmt.Errorf("%w: identity %q defined twice", core.ErrModelValidation, def.Identity)
		}
		seen[def.Identity] = true
		if err := r.lifecycle.ExecuteRegisterHooks(ctx, def); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, def := range defs {
		if existing, ok := r.entries[def.Identity]; ok {
			existing.Definition = def
			existing.Model = nil
			existing.BoundAt = nil
			continue
		}
		r.entries[def.Identity] = &Entry{
			Identity:     def.Identity,
			Definition:   def,
			RegisteredAt: now,
		}
		r.order = append(r.order, def.Identity)
	}
	return nil
}

// Unregister removes a definition and its model.
func (r *ModelRegistry) Unregister(ctx context.Context, identity string) error {
	r.mu.Lock()
	if _, ok := r.entries[identity]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrModelNotFound, identity)
	}
	delete(r.entries, identity)
	for i, id := range r.order {
		if id == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.lifecycle.ExecuteUnregisterHooks(ctx, identity)
	return nil
}

// Bind attaches the live model to its registered definition.
func (r *ModelRegistry) Bind(identity string, m *model.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[identity]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrModelNotFound, identity)
	}
	now := time.Now()
	entry.Model = m
	entry.BoundAt = &now
	return nil
}

// UnbindAll drops every bound model, keeping the definitions.
func (r *ModelRegistry) UnbindAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		entry.Model = nil
		entry.BoundAt = nil
	}
}

// Get returns a copy of the entry for identity.
func (r *ModelRegistry) Get(identity string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrModelNotFound, identity)
	}
	cp := *entry
	return &cp, nil
}

// Model returns the bound model for identity, or nil.
func (r *ModelRegistry) Model(identity string) *model.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.entries[identity]; ok {
		return entry.Model
	}
	return nil
}

// Definitions returns the registered definitions in registration order.
func (r *ModelRegistry) Definitions() []*model.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*model.Definition, 0, len(r.order))
	for _, id := range r.order {
		defs = append(defs, r.entries[id].Definition)
	}
	return defs
}

// Models returns the bound models by identity.
func (r *ModelRegistry) Models() map[string]*model.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*model.Model, len(r.entries))
	for id, entry := range r.entries {
		if entry.Model != nil {
			out[id] = entry.Model
		}
	}
	return out
}

// List returns the registered identities in registration order.
func (r *ModelRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered definitions.
func (r *ModelRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear removes every definition.
func (r *ModelRegistry) Clear(ctx context.Context) {
	r.mu.Lock()
	order := r.order
	r.entries = make(map[string]*Entry)
	r.order = nil
	r.mu.Unlock()

	for _, id := range order {
		r.lifecycle.ExecuteUnregisterHooks(ctx, id)
	}
}

// GetLifecycleManager returns the lifecycle manager associated with this registry.
func (r *ModelRegistry) GetLifecycleManager() *LifecycleManager {
	return r.lifecycle
}
