package model

import (
	"context"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// Emitter receives one model event per successful mutation.
type Emitter interface {
	EmitModelEvent(identity string, action core.Action, record core.Record)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(identity string, action core.Action, record core.Record)

// EmitModelEvent calls f.
func (f EmitterFunc) EmitModelEvent(identity string, action core.Action, record core.Record) {
	f(identity, action, record)
}

// Wrap returns the after-hook for action: user runs first and an error from
// it is returned without emitting; otherwise exactly one event is emitted.
// A nil emitter emits nothing.
func Wrap(emitter Emitter, identity string, action core.Action, user core.Hook) core.Hook {
	return func(ctx context.Context, rec core.Record) error {
		if user != nil {
			if err := user(ctx, rec); err != nil {
				return err
			}
		}
		if emitter != nil {
			emitter.EmitModelEvent(identity, action, rec)
		}
		return nil
	}
}

// Chain runs hooks in order and stops at the first error. Nil hooks are
// skipped.
func Chain(hooks ...core.Hook) core.Hook {
	return func(ctx context.Context, rec core.Record) error {
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := h(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	}
}
