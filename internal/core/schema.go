package core

// ModelSchema describes how a registered model is laid out in its datastore.
// Adapters receive one per model when the datastore is registered.
type ModelSchema struct {
	// Identity is the model identity the schema was derived from.
	Identity string

	// TableName is the physical table/collection/key namespace name.
	TableName string

	// PrimaryKey is the column name of the primary key.
	PrimaryKey string

	// Migrate is the migration strategy: "drop", "alter" or "safe".
	Migrate string

	// Columns contains all column definitions for the model.
	Columns []Column

	// Indexes contains all index definitions for the model.
	Indexes []Index
}

// Column represents a single column of a model.
type Column struct {
	// Name is the column name.
	Name string

	// Type is the logical attribute type ("string", "number", "boolean", "json", "ref").
	Type string

	// ColumnType is an optional adapter specific type override (e.g., "VARCHAR(255)").
	ColumnType string

	// Required indicates whether the column must hold a value.
	Required bool

	// Unique indicates whether values must be unique.
	Unique bool

	// AutoIncrement indicates whether the datastore generates the value.
	AutoIncrement bool
}

// Index represents a secondary index on a model.
type Index struct {
	// Name is the index name.
	Name string

	// Columns are the column names that make up this index.
	Columns []string

	// Unique indicates whether this is a unique index.
	Unique bool
}

// Column returns the column with the given name, or nil.
func (s *ModelSchema) Column(name string) *Column {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}
