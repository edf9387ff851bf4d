package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/persistence/internal/core"
	"github.com/rzpsarthak13/persistence/internal/model"
)

func TestModelRegistry_RegisterKeepsOrder(t *testing.T) {
	r := NewModelRegistry(nil)
	ctx := context.Background()

	require.NoError(t, r.RegisterAll(ctx, []*model.Definition{{Identity: "user"}, {Identity: "pet"}}))
	require.NoError(t, r.Register(ctx, &model.Definition{Identity: "tag"}))

	assert.Equal(t, []string{"user", "pet", "tag"}, r.List())
	assert.Equal(t, 3, r.Count())

	entry, err := r.Get("pet")
	require.NoError(t, err)
	assert.Equal(t, "pet", entry.Definition.Identity)
	assert.Nil(t, entry.Model)
}

func TestModelRegistry_ReplaceKeepsPosition(t *testing.T) {
	r := NewModelRegistry(nil)
	ctx := context.Background()
	require.NoError(t, r.RegisterAll(ctx, []*model.Definition{{Identity: "user"}, {Identity: "pet"}}))
	require.NoError(t, r.Register(ctx, &model.Definition{Identity: "user", Datastore: "mysql"}))

	assert.Equal(t, []string{"user", "pet"}, r.List())
	assert.Equal(t, "mysql", r.Definitions()[0].Datastore)
}

func TestModelRegistry_RegisterAllIsAtomic(t *testing.T) {
	lm := NewLifecycleManager()
	lm.RegisterHook(HookFunc{OnRegisterFunc: func(_ context.Context, def *model.Definition) error {
		if def.Datastore == "missing" {
			return errors.New("unknown datastore")
		}
		return nil
	}})
	r := NewModelRegistry(lm)

	err := r.RegisterAll(context.Background(), []*model.Definition{
		{Identity: "user"},
		{Identity: "pet", Datastore: "missing"},
	})
	require.Error(t, err)
	assert.Zero(t, r.Count())
}

func TestModelRegistry_RejectsBadBatches(t *testing.T) {
	r := NewModelRegistry(nil)
	ctx := context.Background()

	err := r.RegisterAll(ctx, []*model.Definition{{Identity: "user"}, {Identity: "user"}})
	assert.ErrorIs(t, err, core.ErrModelValidation)

	err = r.Register(ctx, &model.Definition{})
	assert.ErrorIs(t, err, core.ErrModelValidation)
	assert.Zero(t, r.Count())
}

func TestModelRegistry_BindAndUnbind(t *testing.T) {
	r := NewModelRegistry(nil)
	require.NoError(t, r.Register(context.Background(), &model.Definition{Identity: "user"}))

	m := &model.Model{}
	require.NoError(t, r.Bind("user", m))
	assert.Same(t, m, r.Model("user"))
	assert.Len(t, r.Models(), 1)

	entry, err := r.Get("user")
	require.NoError(t, err)
	assert.NotNil(t, entry.BoundAt)

	r.UnbindAll()
	assert.Nil(t, r.Model("user"))
	assert.Empty(t, r.Models())

	assert.ErrorIs(t, r.Bind("ghost", m), core.ErrModelNotFound)
	assert.Nil(t, r.Model("ghost"))
}

func TestModelRegistry_UnregisterAndClear(t *testing.T) {
	var removed []string
	lm := NewLifecycleManager()
	lm.RegisterHook(HookFunc{OnUnregisterFunc: func(_ context.Context, identity string) {
		removed = append(removed, identity)
	}})
	r := NewModelRegistry(lm)
	ctx := context.Background()
	require.NoError(t, r.RegisterAll(ctx, []*model.Definition{{Identity: "a"}, {Identity: "b"}, {Identity: "c"}}))

	require.NoError(t, r.Unregister(ctx, "b"))
	assert.Equal(t, []string{"a", "c"}, r.List())
	assert.ErrorIs(t, r.Unregister(ctx, "b"), core.ErrModelNotFound)

	r.Clear(ctx)
	assert.Zero(t, r.Count())
	assert.Equal(t, []string{"b", "a", "c"}, removed)
	assert.Same(t, lm, r.GetLifecycleManager())
}
