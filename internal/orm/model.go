package orm

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// Callbacks are the lifecycle callbacks the ORM invokes around mutations.
// Any of them may be nil.
type Callbacks struct {
	BeforeCreate  core.Hook
	AfterCreate   core.Hook
	BeforeUpdate  core.Hook
	AfterUpdate   core.Hook
	BeforeDestroy core.Hook
	AfterDestroy  core.Hook
}

// ModelDef is a model as the ORM accepts it for registration. Attributes must
// already be in normalized form: validation rules nested under "validations"
// and migration directives under "autoMigrations".
type ModelDef struct {
	Identity   string
	GlobalID   string
	TableName  string
	Datastore  string
	PrimaryKey string
	Migrate    string
	Attributes map[string]map[string]any
	Callbacks  Callbacks
}

// Attribute is a parsed model attribute.
type Attribute struct {
	Name           string
	Type           string
	ColumnName     string
	Required       bool
	AllowNull      bool
	DefaultsTo     any
	HasDefault     bool
	AutoCreatedAt  bool
	AutoUpdatedAt  bool
	Validations    map[string]any
	AutoMigrations AutoMigrations
}

// AutoMigrations holds the migration directives of an attribute.
type AutoMigrations struct {
	ColumnType    string
	Unique        bool
	AutoIncrement bool
	Index         bool
}

var attributeTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"boolean": true,
	"json":    true,
	"ref":     true,
}

// properties accepted at the top level of an attribute.
var topLevelProperties = map[string]bool{
	"type":           true,
	"required":       true,
	"allowNull":      true,
	"columnName":     true,
	"defaultsTo":     true,
	"autoCreatedAt":  true,
	"autoUpdatedAt":  true,
	"validations":    true,
	"autoMigrations": true,
	"description":    true,
	"example":        true,
	"meta":           true,
}

var migrationProperties = map[string]bool{
	"columnType":    true,
	"unique":        true,
	"autoIncrement": true,
	"index":         true,
	"required":      true,
}

func parseAttribute(identity, name string, spec map[string]any) (*Attribute, error) {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: model %q attribute %q: %s", core.ErrModelValidation, identity, name, fmt.Sprintf(format, args...))
	}

	keys := make([]string, 0, len(spec))
	for key := range spec {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !topLevelProperties[key] {
			return nil, fail("unrecognized property %q", key)
		}
	}

	attr := &Attribute{Name: name, ColumnName: name}

	typ, _ := spec["type"].(string)
	if spec["autoCreatedAt"] == true || spec["autoUpdatedAt"] == true {
		if typ == "" {
			typ = "number"
		}
	}
	if !attributeTypes[typ] {
		return nil, fail("invalid type %q", typ)
	}
	attr.Type = typ

	if col, ok := spec["columnName"].(string); ok && col != "" {
		attr.ColumnName = col
	}
	attr.Required, _ = spec["required"].(bool)
	attr.AllowNull, _ = spec["allowNull"].(bool)
	attr.AutoCreatedAt, _ = spec["autoCreatedAt"].(bool)
	attr.AutoUpdatedAt, _ = spec["autoUpdatedAt"].(bool)

	if def, ok := spec["defaultsTo"]; ok {
		if def != nil && reflect.TypeOf(def).Kind() == reflect.Func {
			return nil, fail("defaultsTo must be a literal value, got a function")
		}
		attr.DefaultsTo = def
		attr.HasDefault = true
	}

	if raw, ok := spec["validations"]; ok {
		rules, ok := raw.(map[string]any)
		if !ok {
			return nil, fail("validations must be an object")
		}
		for rule := range rules {
			if _, known := validationRules[rule]; !known {
				return nil, fail("unknown validation rule %q", rule)
			}
		}
		attr.Validations = rules
	}

	if raw, ok := spec["autoMigrations"]; ok {
		migrations, ok := raw.(map[string]any)
		if !ok {
			return nil, fail("autoMigrations must be an object")
		}
		for key, value := range migrations {
			if !migrationProperties[key] {
				return nil, fail("unrecognized auto-migration directive %q", key)
			}
			switch key {
			case "columnType":
				attr.AutoMigrations.ColumnType, _ = value.(string)
			case "unique":
				attr.AutoMigrations.Unique, _ = value.(bool)
			case "autoIncrement":
				attr.AutoMigrations.AutoIncrement, _ = value.(bool)
			case "index":
				attr.AutoMigrations.Index, _ = value.(bool)
			}
		}
	}

	return attr, nil
}

// schemaFor builds the adapter facing schema of a model.
func schemaFor(def *ModelDef, attrs []*Attribute) *core.ModelSchema {
	schema := &core.ModelSchema{
		Identity:  def.Identity,
		TableName: def.TableName,
		Migrate:   def.Migrate,
	}
	for _, attr := range attrs {
		if attr.Name == def.PrimaryKey {
			schema.PrimaryKey = attr.ColumnName
		}
		schema.Columns = append(schema.Columns, core.Column{
			Name:          attr.ColumnName,
			Type:          attr.Type,
			ColumnType:    attr.AutoMigrations.ColumnType,
			Required:      attr.Required,
			Unique:        attr.AutoMigrations.Unique,
			AutoIncrement: attr.AutoMigrations.AutoIncrement,
		})
		if attr.AutoMigrations.Index || (attr.AutoMigrations.Unique && attr.Name != def.PrimaryKey) {
			schema.Indexes = append(schema.Indexes, core.Index{
				Name:    fmt.Sprintf("%s_%s_idx", def.TableName, attr.ColumnName),
				Columns: []string{attr.ColumnName},
				Unique:  attr.AutoMigrations.Unique,
			})
		}
	}
	return schema
}
