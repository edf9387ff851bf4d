package model

import (
	"context"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// ValidationKeys are the attribute properties the ORM expects nested under
// "validations".
var ValidationKeys = []string{
	"isAfter", "isBefore", "isBoolean", "isCreditCard", "isEmail", "isHexColor",
	"isIn", "isInteger", "isIP", "isNotEmptyString", "isNotIn", "isNumber",
	"isString", "isURL", "isUUID", "max", "min", "maxLength", "minLength",
	"regex", "custom",
}

// MigrationKeys are the attribute properties the ORM expects nested under
// "autoMigrations".
var MigrationKeys = []string{"index", "unique", "autoIncrement", "columnType"}

var (
	validationKeySet = toSet(ValidationKeys)
	migrationKeySet  = toSet(MigrationKeys)
)

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// Normalize rewrites attributes into the shape the ORM accepts. Nil
// attributes are dropped; validation and migration properties are moved
// into their nested objects, merging with any already present; the legacy
// "text" type becomes "string"; function valued defaultsTo entries are
// removed and returned keyed by attribute name. The input is not modified.
func Normalize(attrs Attributes) (Attributes, map[string]Generator) {
	out := make(Attributes, len(attrs))
	gens := make(map[string]Generator)

	for name, spec := range attrs {
		if spec == nil {
			continue
		}
		norm := make(FieldSpec, len(spec))
		validations := nestedMap(spec["validations"])
		migrations := nestedMap(spec["autoMigrations"])

		for prop, value := range spec {
			switch {
			case prop == "validations" || prop == "autoMigrations":
			case validationKeySet[prop]:
				validations[prop] = value
			case migrationKeySet[prop]:
				migrations[prop] = value
			case prop == "defaultsTo":
				if g, ok := asGenerator(value); ok {
					gens[name] = g
					continue
				}
				norm[prop] = value
			default:
				norm[prop] = value
			}
		}

		if norm["type"] == "text" {
			norm["type"] = "string"
		}
		if len(validations) > 0 {
			norm["validations"] = validations
		}
		if len(migrations) > 0 {
			norm["autoMigrations"] = migrations
		}
		out[name] = norm
	}
	return out, gens
}

// nestedMap returns a copy of v when it is an object, or an empty map.
func nestedMap(v any) map[string]any {
	out := make(map[string]any)
	if m, ok := v.(map[string]any); ok {
		for k, val := range m {
			out[k] = val
		}
	}
	return out
}

// DefaultsHook returns a hook that fills every attribute with a generator
// whose value is absent or the empty string, then runs user. Values
// already set, including an explicit nil, are never overwritten.
func DefaultsHook(gens map[string]Generator, user core.Hook) core.Hook {
	return func(ctx context.Context, rec core.Record) error {
		for name, gen := range gens {
			if v, ok := rec[name]; !ok || v == "" {
				rec[name] = gen()
			}
		}
		if user != nil {
			return user(ctx, rec)
		}
		return nil
	}
}
