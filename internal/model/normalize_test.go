package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/persistence/internal/core"
)

func TestNormalize_MovesValidationAndMigrationKeys(t *testing.T) {
	attrs := Attributes{
		"email": {
			"type":     "string",
			"required": true,
			"isEmail":  true,
			"unique":   true,
		},
	}

	out, gens := Normalize(attrs)

	assert.Empty(t, gens)
	assert.Equal(t, FieldSpec{
		"type":           "string",
		"required":       true,
		"validations":    map[string]any{"isEmail": true},
		"autoMigrations": map[string]any{"unique": true},
	}, out["email"])

	assert.Contains(t, attrs["email"], "isEmail", "input must not be modified")
}

func TestNormalize_MergesExistingNestedObjects(t *testing.T) {
	out, _ := Normalize(Attributes{
		"name": {
			"type":           "string",
			"maxLength":      10,
			"validations":    map[string]any{"minLength": 2},
			"index":          true,
			"autoMigrations": map[string]any{"columnType": "varchar(10)"},
		},
	})

	assert.Equal(t, map[string]any{"minLength": 2, "maxLength": 10}, out["name"]["validations"])
	assert.Equal(t, map[string]any{"columnType": "varchar(10)", "index": true}, out["name"]["autoMigrations"])
}

func TestNormalize_RemovesNilAttributes(t *testing.T) {
	out, _ := Normalize(Attributes{
		"name": {"type": "string"},
		"uuid": nil,
	})

	assert.Contains(t, out, "name")
	assert.NotContains(t, out, "uuid")
}

func TestNormalize_NilAttributeAndNilDefault(t *testing.T) {
	gen := Generator(func() any { return "x" })

	// a nil attribute wins over any default it had elsewhere
	out, gens := Normalize(Attributes{"token": nil, "keep": {"defaultsTo": gen}})
	assert.NotContains(t, out, "token")
	assert.NotContains(t, gens, "token")
	assert.Contains(t, gens, "keep")

	// a nil defaultsTo keeps the attribute with a literal nil default
	out, gens = Normalize(Attributes{"token": {"type": "string", "defaultsTo": nil}})
	require.Contains(t, out, "token")
	v, ok := out["token"]["defaultsTo"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Empty(t, gens)
}

func TestNormalize_ExtractsFunctionDefaults(t *testing.T) {
	gen := Generator(func() any { return "generated" })
	out, gens := Normalize(Attributes{
		"token":  {"type": "string", "defaultsTo": gen},
		"plain":  {"type": "string", "defaultsTo": func() any { return "x" }},
		"status": {"type": "string", "defaultsTo": "active"},
	})

	require.Len(t, gens, 2)
	assert.Equal(t, "generated", gens["token"]())
	assert.NotContains(t, out["token"], "defaultsTo")
	assert.NotContains(t, out["plain"], "defaultsTo")
	assert.Equal(t, "active", out["status"]["defaultsTo"])
}

func TestNormalize_RewritesTextType(t *testing.T) {
	out, _ := Normalize(Attributes{"bio": {"type": "text"}})
	assert.Equal(t, "string", out["bio"]["type"])
}

func TestDefaultsHook(t *testing.T) {
	n := 0
	gens := map[string]Generator{"id": func() any { n++; return "gen" }}
	hook := DefaultsHook(gens, nil)
	ctx := context.Background()

	for _, rec := range []core.Record{{}, {"id": ""}} {
		require.NoError(t, hook(ctx, rec))
		assert.Equal(t, "gen", rec["id"])
	}

	rec := core.Record{"id": "keep"}
	require.NoError(t, hook(ctx, rec))
	assert.Equal(t, "keep", rec["id"])

	explicitNil := core.Record{"id": nil}
	require.NoError(t, hook(ctx, explicitNil))
	v, ok := explicitNil["id"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, 2, n)
}

func TestDefaultsHook_RunsUserHookAfterDefaults(t *testing.T) {
	var seen any
	user := func(_ context.Context, rec core.Record) error {
		seen = rec["id"]
		return nil
	}
	hook := DefaultsHook(map[string]Generator{"id": func() any { return "gen" }}, user)

	require.NoError(t, hook(context.Background(), core.Record{}))
	assert.Equal(t, "gen", seen)
}

func TestGenerators(t *testing.T) {
	g, err := LookupGenerator("uuid")
	require.NoError(t, err)
	assert.Len(t, g().(string), 36)

	_, err = LookupGenerator("nope")
	assert.Error(t, err)

	RegisterGenerator("constant", func() any { return "c" })
	g, err = LookupGenerator("constant")
	require.NoError(t, err)
	assert.Equal(t, "c", g())
	assert.Contains(t, GeneratorNames(), "now")
}
