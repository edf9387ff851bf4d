package core

import (
	"context"
	"time"
)

// Adapter defines the interface a datastore backend implements for the ORM.
// One adapter instance may serve several datastores; every call names the
// datastore it targets.
type Adapter interface {
	// Identity returns the adapter name (e.g., "memory", "sql", "redis").
	Identity() string

	// RegisterDatastore opens the datastore and prepares storage for the given models
	// according to each schema's migration strategy.
	RegisterDatastore(ctx context.Context, name string, config DatastoreConfig, schemas []*ModelSchema) error

	// Create stores a record and returns it as persisted.
	Create(ctx context.Context, datastore, table string, record Record) (Record, error)

	// Find returns all records matching the criteria.
	Find(ctx context.Context, datastore, table string, criteria Criteria) ([]Record, error)

	// Update applies values to every matching record and returns the updated records.
	Update(ctx context.Context, datastore, table string, criteria Criteria, values Record) ([]Record, error)

	// Destroy removes every matching record and returns the removed records.
	Destroy(ctx context.Context, datastore, table string, criteria Criteria) ([]Record, error)

	// Teardown closes the datastore and releases its resources.
	Teardown(ctx context.Context, datastore string) error
}

// DatastoreConfig is the adapter configuration of a named datastore.
// Only the fields relevant to the selected adapter are read.
type DatastoreConfig struct {
	// Adapter names the adapter serving this datastore.
	Adapter string `yaml:"adapter" json:"adapter"`

	// Driver selects the database/sql driver for the sql adapter ("mysql", "postgres" or "sqlite").
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty"`

	// URL is a complete DSN; when present it wins over the discrete fields.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	MaxOpenConns      int           `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxIdleConns      int           `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`

	// Endpoints lists Redis endpoints. Only the first is used.
	Endpoints []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	DB        int      `yaml:"db,omitempty" json:"db,omitempty"`
	PoolSize  int      `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`

	// Prefix namespaces keys (redis) or table names (dynamodb).
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	// DynamoDB-specific fields
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}
