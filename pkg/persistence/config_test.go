package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/persistence/internal/orm"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig(env(nil))
	assert.Equal(t, DefaultEventTypePrefix, cfg.EventTypePrefix)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, "models", filepath.Base(cfg.ModelsDir))
	assert.Equal(t, orm.MigrateDrop, cfg.ORM.DefaultModelSettings.Migrate)
	assert.Equal(t, DefaultDatastore, cfg.ORM.DefaultModelSettings.Datastore)
	assert.Equal(t, "memory", cfg.ORM.Datastores[DefaultDatastore].Adapter)
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfig_Environment(t *testing.T) {
	cfg := defaultConfig(env(map[string]string{
		EnvDatastore:   "local",
		EnvEnvironment: "production",
	}))
	assert.Equal(t, orm.MigrateSafe, cfg.ORM.DefaultModelSettings.Migrate)
	assert.Equal(t, "local", cfg.ORM.DefaultModelSettings.Datastore)
	assert.Contains(t, cfg.ORM.Datastores, "local")
}

func TestApplyEnv(t *testing.T) {
	cfg := defaultConfig(env(nil))
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		EnvModelsDir:       "/srv/models",
		EnvTimeout:         "5s",
		EnvEventTypePrefix: "-",
		EnvWatch:           "true",
	})))
	assert.Equal(t, "/srv/models", cfg.ModelsDir)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Empty(t, cfg.EventTypePrefix)
	assert.True(t, cfg.Watch)

	err := cfg.ApplyEnv(env(map[string]string{EnvTimeout: "soon"}))
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestParseYAML(t *testing.T) {
	cfg, err := ParseYAML([]byte(`
models_dir: /srv/models
event_type_prefix: app
timeout: 10s
orm:
  datastores:
    main:
      adapter: sql
      driver: sqlite
      database: ":memory:"
  default_model_settings:
    datastore: main
    migrate: alter
events:
  kafka:
    brokers: [localhost:9092]
    topic: model-events
  async:
    buffer_size: 10
`))
	require.NoError(t, err)
	assert.Equal(t, "/srv/models", cfg.ModelsDir)
	assert.Equal(t, "app", cfg.EventTypePrefix)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, "sqlite", cfg.ORM.Datastores["main"].Driver)
	assert.Equal(t, ModelSettings{Datastore: "main", Migrate: orm.MigrateAlter}, cfg.ORM.DefaultModelSettings)
	require.NotNil(t, cfg.Events.Kafka)
	assert.Equal(t, "model-events", cfg.Events.Kafka.Topic)
	assert.Equal(t, 10, cfg.Events.Async.BufferSize)
	assert.Equal(t, 50, cfg.Events.Async.BatchSize)
}

func TestParseYAML_UpgradesLegacyKeys(t *testing.T) {
	cfg, err := ParseYAML([]byte(`
orm:
  connections:
    old:
      adapter: memory
  defaults:
    datastore: old
    migrate: safe
`))
	require.NoError(t, err)
	assert.Nil(t, cfg.ORM.Connections)
	assert.Nil(t, cfg.ORM.Defaults)
	assert.Equal(t, "memory", cfg.ORM.Datastores["old"].Adapter)
	assert.Equal(t, ModelSettings{Datastore: "old", Migrate: orm.MigrateSafe}, cfg.ORM.DefaultModelSettings)
}

func TestParseJSON(t *testing.T) {
	cfg, err := ParseJSON([]byte(`{"event_type_prefix": "", "orm": {"datastores": {"cache": {"adapter": "redis", "url": "redis://localhost:6379/0"}}}}`))
	require.NoError(t, err)
	assert.Empty(t, cfg.EventTypePrefix)
	assert.Equal(t, "redis", cfg.ORM.Datastores["cache"].Adapter)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "timeout", mutate: func(c *Config) { c.Timeout = 0 }, want: "timeout"},
		{name: "pattern", mutate: func(c *Config) { c.FilePattern = "(" }, want: "file_pattern"},
		{name: "no datastores", mutate: func(c *Config) { c.ORM.Datastores = nil }, want: "orm.datastores"},
		{name: "no adapter", mutate: func(c *Config) { c.ORM.Datastores["x"] = DatastoreConfig{} }, want: "adapter is required"},
		{name: "unknown adapter", mutate: func(c *Config) { c.ORM.Datastores["x"] = DatastoreConfig{Adapter: "sails-disk"} }, want: "unknown adapter"},
		{name: "default datastore", mutate: func(c *Config) { c.ORM.DefaultModelSettings.Datastore = "nope" }, want: `"nope"`},
		{name: "migrate", mutate: func(c *Config) { c.ORM.DefaultModelSettings.Migrate = "yolo" }, want: "yolo"},
		{name: "redis sink", mutate: func(c *Config) { c.Events.Redis = &RedisSinkConfig{} }, want: "events.redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(env(nil))
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CustomAdapterSkipsFactory(t *testing.T) {
	cfg := defaultConfig(env(nil))
	cfg.ORM.Adapters = map[string]Adapter{"custom": &stubAdapter{}}
	cfg.ORM.Datastores["x"] = DatastoreConfig{Adapter: "custom"}
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persistence.yml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: 1s\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Timeout)

	bad := filepath.Join(dir, "persistence.toml")
	require.NoError(t, os.WriteFile(bad, nil, 0o644))
	_, err = LoadConfig(bad)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
