package registry

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/persistence/internal/model"
)

// Hook is called for every definition entering or leaving the registry.
// Hooks run synchronously; an error from OnRegister rejects the batch.
type Hook interface {
	// OnRegister is called before a definition is registered.
	OnRegister(ctx context.Context, def *model.Definition) error

	// OnUnregister is called after a definition is removed.
	OnUnregister(ctx context.Context, identity string)
}

// HookFunc lets plain functions act as a Hook.
type HookFunc struct {
	OnRegisterFunc   func(ctx context.Context, def *model.Definition) error
	OnUnregisterFunc func(ctx context.Context, identity string)
}

// OnRegister calls OnRegisterFunc if it's not nil.
func (f HookFunc) OnRegister(ctx context.Context, def *model.Definition) error {
	if f.OnRegisterFunc != nil {
		return f.OnRegisterFunc(ctx, def)
	}
	return nil
}

// OnUnregister calls OnUnregisterFunc if it's not nil.
func (f HookFunc) OnUnregister(ctx context.Context, identity string) {
	if f.OnUnregisterFunc != nil {
		f.OnUnregisterFunc(ctx, identity)
	}
}

// LifecycleManager holds the registry hooks.
type LifecycleManager struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewLifecycleManager creates a new lifecycle manager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// RegisterHook adds a hook. Hooks are executed in the order they were registered.
func (lm *LifecycleManager) RegisterHook(hook Hook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

// ClearHooks removes all registered hooks.
func (lm *LifecycleManager) ClearHooks() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = nil
}

func (lm *LifecycleManager) snapshot() []Hook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return append([]Hook(nil), lm.hooks...)
}

// ExecuteRegisterHooks runs every OnRegister hook in order and stops at the
// first error.
func (lm *LifecycleManager) ExecuteRegisterHooks(ctx context.Context, def *model.Definition) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnRegister(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteUnregisterHooks runs every OnUnregister hook in order.
func (lm *LifecycleManager) ExecuteUnregisterHooks(ctx context.Context, identity string) {
	for _, hook := range lm.snapshot() {
		hook.OnUnregister(ctx, identity)
	}
}
