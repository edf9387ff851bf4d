package orm

import "github.com/rzpsarthak13/persistence/internal/core"

// Migration strategies.
const (
	MigrateDrop  = "drop"
	MigrateAlter = "alter"
	MigrateSafe  = "safe"
)

// Config is the configuration handed to Initialize.
type Config struct {
	// Adapters maps adapter names to live implementations. Adapters not listed
	// here are created from the adapter factory registry on demand.
	Adapters map[string]core.Adapter

	// Datastores maps datastore names to their adapter configuration.
	Datastores map[string]core.DatastoreConfig

	// DefaultModelSettings applies to every model that leaves a setting empty.
	DefaultModelSettings ModelSettings
}

// ModelSettings holds the per-model defaults.
type ModelSettings struct {
	// Migrate is the migration strategy ("drop", "alter" or "safe").
	Migrate string `yaml:"migrate,omitempty" json:"migrate,omitempty"`

	// Datastore is the datastore models are bound to when they name none.
	Datastore string `yaml:"datastore,omitempty" json:"datastore,omitempty"`
}
