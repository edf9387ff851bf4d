package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/persistence/internal/core"
)

func TestExtend_MergesBaseModel(t *testing.T) {
	ext, err := Extend(&Definition{
		Identity:   "user",
		Attributes: Attributes{"name": {"type": "string", "isNotEmptyString": true}},
	}, nil)
	require.NoError(t, err)

	attrs := ext.ORM.Attributes
	assert.ElementsMatch(t, []string{"id", "uuid", "createdAt", "updatedAt", "name"}, keys(attrs))
	assert.Equal(t, "id", ext.ORM.PrimaryKey)
	assert.Equal(t, "_id", attrs["id"]["columnName"])
	assert.Equal(t, map[string]any{"unique": true, "index": true}, attrs["uuid"]["autoMigrations"])
	assert.Equal(t, map[string]any{"isNotEmptyString": true}, attrs["name"]["validations"])
	assert.Contains(t, ext.Defaults, "id")
	assert.Contains(t, ext.Defaults, "uuid")
	assert.NotContains(t, attrs["id"], "defaultsTo")
}

func TestExtend_NilRemovesBaseAttribute(t *testing.T) {
	ext, err := Extend(&Definition{Identity: "tag", Attributes: Attributes{"uuid": nil}}, nil)
	require.NoError(t, err)

	assert.NotContains(t, ext.ORM.Attributes, "uuid")
	assert.NotContains(t, ext.Defaults, "uuid")
}

func TestExtend_DefinitionAttributeReplacesBase(t *testing.T) {
	gen := Generator(func() any { return "child" })
	ext, err := Extend(&Definition{
		Identity:   "tag",
		Attributes: Attributes{"uuid": {"type": "string", "defaultsTo": gen}},
	}, nil)
	require.NoError(t, err)

	require.Contains(t, ext.Defaults, "uuid")
	assert.Equal(t, "child", ext.Defaults["uuid"]())
	assert.NotContains(t, ext.ORM.Attributes["uuid"], "autoMigrations")
}

func TestExtend_LegacyNames(t *testing.T) {
	ext, err := Extend(&Definition{Identity: "user", Connection: "mysql", ExportName: "Account"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "mysql", ext.ORM.Datastore)
	assert.Equal(t, "Account", ext.ORM.GlobalID)
	assert.Empty(t, ext.Definition.Connection)

	ext, err = Extend(&Definition{Identity: "user", Connection: "mysql", Datastore: "pg"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "pg", ext.ORM.Datastore)
}

func TestExtend_DoesNotMutateInput(t *testing.T) {
	def := &Definition{Identity: "user", Attributes: Attributes{"email": {"type": "string", "isEmail": true}}}
	_, err := Extend(def, nil)
	require.NoError(t, err)
	assert.Equal(t, true, def.Attributes["email"]["isEmail"])
}

func TestExtend_RequiresIdentity(t *testing.T) {
	_, err := Extend(&Definition{}, nil)
	assert.ErrorIs(t, err, core.ErrModelValidation)
	_, err = Extend(nil, nil)
	assert.ErrorIs(t, err, core.ErrModelValidation)
}

func TestExportName(t *testing.T) {
	assert.Equal(t, "Global", ExportName("Global", "Export", "user"))
	assert.Equal(t, "Export", ExportName("", "Export", "user"))
	assert.Equal(t, "User", ExportName("", "", "user"))
	assert.Equal(t, "", ExportName("", "", ""))
}

func keys(m map[string]map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
