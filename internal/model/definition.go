// Package model turns user model definitions into ORM models: it merges the
// base model, normalizes attributes, installs the defaults hook and wraps the
// lifecycle hooks so every mutation emits a model event.
package model

import "github.com/rzpsarthak13/persistence/internal/core"

// FieldSpec is the specification of one attribute. A nil FieldSpec in a
// definition removes the attribute of the same name from the base model.
type FieldSpec map[string]any

// Attributes maps attribute names to their specifications.
type Attributes map[string]FieldSpec

// Definition is a user model definition before it is registered.
type Definition struct {
	// Identity is the lowercase model name used as the registry key.
	Identity string

	// GlobalID is the name the model is exported under. When empty
	// ExportName, then the capitalized identity, is used.
	GlobalID string

	// ExportName is the legacy spelling of GlobalID.
	ExportName string

	// Datastore names the configured datastore the model is bound to.
	Datastore string

	// Connection is the legacy spelling of Datastore.
	Connection string

	TableName  string
	PrimaryKey string
	Migrate    string

	Attributes Attributes

	// BeforeValidate runs on values passed to Create and CreateEach after
	// function defaults are applied, and on values passed to Update.
	BeforeValidate core.Hook

	BeforeCreate  core.Hook
	BeforeUpdate  core.Hook
	BeforeDestroy core.Hook

	// After hooks run before the model event is emitted. An error
	// suppresses the event and fails the operation.
	AfterCreate  core.Hook
	AfterUpdate  core.Hook
	AfterDestroy core.Hook

	// Source is the file the definition was loaded from, if any.
	Source string
}

// Clone returns a copy of the definition whose attribute maps can be
// modified without affecting d.
func (d *Definition) Clone() *Definition {
	out := *d
	out.Attributes = d.Attributes.Clone()
	return &out
}

// Clone returns a two level copy of the attributes. Nested validations
// and autoMigrations maps are copied too.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for name, spec := range a {
		out[name] = spec.Clone()
	}
	return out
}

// Clone copies the spec, including nested maps one level down.
func (f FieldSpec) Clone() FieldSpec {
	if f == nil {
		return nil
	}
	out := make(FieldSpec, len(f))
	for k, v := range f {
		if nested, ok := v.(map[string]any); ok {
			cp := make(map[string]any, len(nested))
			for nk, nv := range nested {
				cp[nk] = nv
			}
			v = cp
		}
		out[k] = v
	}
	return out
}

// Base returns the base model every definition extends: a string primary key
// "id" stored in column "_id", a unique "uuid" and automatic timestamps.
func Base() *Definition {
	return &Definition{
		PrimaryKey: "id",
		Attributes: Attributes{
			"id": {
				"type":       "string",
				"columnName": "_id",
				"required":   true,
				"defaultsTo": UUID,
				"autoMigrations": map[string]any{
					"columnType":    "string",
					"unique":        true,
					"required":      true,
					"autoIncrement": false,
				},
			},
			"uuid": {
				"type":       "string",
				"required":   true,
				"unique":     true,
				"index":      true,
				"defaultsTo": UUID,
			},
			"createdAt": {"type": "string", "autoCreatedAt": true},
			"updatedAt": {"type": "string", "autoUpdatedAt": true},
		},
	}
}
