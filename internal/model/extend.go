package model

import (
	"fmt"
	"strings"

	"github.com/rzpsarthak13/persistence/internal/core"
	"github.com/rzpsarthak13/persistence/internal/orm"
)

// Extended is a definition compiled against the base model.
type Extended struct {
	// Definition is the merged definition the ORM model was built from.
	Definition *Definition

	// ORM is the model handed to orm.RegisterModel.
	ORM *orm.ModelDef

	// Defaults are the function valued defaults removed from the attributes.
	Defaults map[string]Generator

	// Validate fills defaults and runs the user's BeforeValidate hook.
	Validate core.Hook
}

// Extend merges def over the base model, normalizes its attributes and binds
// its after-hooks to emitter. Legacy Connection and ExportName are honored
// when Datastore and GlobalID are empty. Attributes of def replace base
// attributes of the same name; a nil attribute removes it.
func Extend(def *Definition, emitter Emitter) (*Extended, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", core.ErrModelValidation)
	}
	if def.Identity == "" {
		return nil, fmt.Errorf("%w: model identity is required", core.ErrModelValidation)
	}

	merged := def.Clone()
	if merged.Datastore == "" && merged.Connection != "" {
		merged.Datastore = merged.Connection
	}
	merged.Connection = ""
	if merged.GlobalID == "" && merged.ExportName != "" {
		merged.GlobalID = merged.ExportName
	}

	base := Base()
	if merged.PrimaryKey == "" {
		merged.PrimaryKey = base.PrimaryKey
	}
	attrs := base.Attributes
	for name, spec := range def.Attributes {
		attrs[name] = spec.Clone()
	}
	merged.Attributes = attrs

	normalized, gens := Normalize(attrs)

	ormDef := &orm.ModelDef{
		Identity:   merged.Identity,
		GlobalID:   merged.GlobalID,
		TableName:  merged.TableName,
		Datastore:  merged.Datastore,
		PrimaryKey: merged.PrimaryKey,
		Migrate:    merged.Migrate,
		Attributes: make(map[string]map[string]any, len(normalized)),
		Callbacks: orm.Callbacks{
			BeforeCreate:  merged.BeforeCreate,
			BeforeUpdate:  merged.BeforeUpdate,
			BeforeDestroy: merged.BeforeDestroy,
			AfterCreate:   Wrap(emitter, merged.Identity, core.ActionCreate, merged.AfterCreate),
			AfterUpdate:   Wrap(emitter, merged.Identity, core.ActionUpdate, merged.AfterUpdate),
			AfterDestroy:  Wrap(emitter, merged.Identity, core.ActionDestroy, merged.AfterDestroy),
		},
	}
	for name, spec := range normalized {
		ormDef.Attributes[name] = map[string]any(spec)
	}

	return &Extended{
		Definition: merged,
		ORM:        ormDef,
		Defaults:   gens,
		Validate:   DefaultsHook(gens, merged.BeforeValidate),
	}, nil
}

// ExportName resolves the name a model is published under: its global id,
// then its export name, then its identity with the first letter upper cased.
func ExportName(globalID, exportName, identity string) string {
	switch {
	case globalID != "":
		return globalID
	case exportName != "":
		return exportName
	default:
		return Capitalize(identity)
	}
}

// Capitalize upper cases the first byte of s.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
