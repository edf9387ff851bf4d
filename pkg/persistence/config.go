package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/persistence/internal/adapter"
	"github.com/rzpsarthak13/persistence/internal/core"
	"github.com/rzpsarthak13/persistence/internal/loader"
	"github.com/rzpsarthak13/persistence/internal/orm"
	"github.com/rzpsarthak13/persistence/internal/sink"
)

// Environment variables read by DefaultConfig and ApplyEnv.
const (
	EnvDatastore       = "PERSISTENCE_DATASTORE"
	EnvModelsDir       = "PERSISTENCE_MODELS_DIR"
	EnvTimeout         = "PERSISTENCE_TIMEOUT"
	EnvEventTypePrefix = "PERSISTENCE_EVENT_TYPE_PREFIX"
	EnvWatch           = "PERSISTENCE_WATCH"
	EnvEnvironment     = "GO_ENV"
)

const (
	// DefaultEventTypePrefix is the leading segment of every event name.
	DefaultEventTypePrefix = "persistence"

	// DefaultTimeout bounds ORM initialization.
	DefaultTimeout = 30 * time.Second

	// DefaultDatastore is the datastore models bind to when they name none.
	DefaultDatastore = "development"
)

// Config is the configuration of a Persistence facade.
type Config struct {
	// ModelsDir is scanned for model definition files.
	ModelsDir string `yaml:"models_dir" json:"models_dir"`

	// FilePattern selects the files of ModelsDir that hold definitions.
	FilePattern string `yaml:"file_pattern" json:"file_pattern"`

	// EventTypePrefix is the leading segment of event names. Empty drops it.
	EventTypePrefix string `yaml:"event_type_prefix" json:"event_type_prefix"`

	// Timeout bounds ORM initialization during Connect.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Watch reloads the models when files in ModelsDir change.
	Watch bool `yaml:"watch" json:"watch"`

	ORM    ORMConfig    `yaml:"orm" json:"orm"`
	Events EventsConfig `yaml:"events" json:"events"`

	// SkipExport reports names Export must not publish. Nil selects
	// IsJunctionName.
	SkipExport func(name string) bool `yaml:"-" json:"-"`
}

// ORMConfig configures the wrapped ORM.
type ORMConfig struct {
	// Adapters maps adapter names to live implementations, overriding the
	// built-in adapter factories.
	Adapters map[string]core.Adapter `yaml:"-" json:"-"`

	Datastores           map[string]core.DatastoreConfig `yaml:"datastores" json:"datastores"`
	DefaultModelSettings orm.ModelSettings               `yaml:"default_model_settings" json:"default_model_settings"`

	// Connections and Defaults are the legacy spellings of Datastores and
	// DefaultModelSettings. Upgrade moves them over.
	Connections map[string]core.DatastoreConfig `yaml:"connections,omitempty" json:"connections,omitempty"`
	Defaults    *orm.ModelSettings              `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// EventsConfig configures the external event sinks. Model events always
// reach the facade dispatcher; configured sinks receive a copy.
type EventsConfig struct {
	Kafka *sink.KafkaConfig `yaml:"kafka,omitempty" json:"kafka,omitempty"`
	Redis *sink.RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// Async tunes the queue in front of the external sinks.
	Async sink.AsyncConfig `yaml:"async,omitempty" json:"async,omitempty"`
}

// DefaultConfig returns the default configuration: models in ./models, the
// memory adapter behind the "development" datastore, a 30 second timeout.
// PERSISTENCE_DATASTORE renames the default datastore and GO_ENV=production
// selects the safe migration strategy.
func DefaultConfig() *Config {
	return defaultConfig(os.Getenv)
}

func defaultConfig(getenv func(string) string) *Config {
	datastore := DefaultDatastore
	if v := getenv(EnvDatastore); v != "" {
		datastore = v
	}
	migrate := orm.MigrateDrop
	if getenv(EnvEnvironment) == "production" {
		migrate = orm.MigrateSafe
	}

	modelsDir := "models"
	if wd, err := os.Getwd(); err == nil {
		modelsDir = filepath.Join(wd, "models")
	}

	return &Config{
		ModelsDir:       modelsDir,
		FilePattern:     loader.DefaultPattern,
		EventTypePrefix: DefaultEventTypePrefix,
		Timeout:         DefaultTimeout,
		ORM: ORMConfig{
			Datastores: map[string]core.DatastoreConfig{
				datastore: {Adapter: "memory"},
			},
			DefaultModelSettings: orm.ModelSettings{
				Migrate:   migrate,
				Datastore: datastore,
			},
		},
		Events: EventsConfig{Async: sink.DefaultAsyncConfig()},
	}
}

// LoadConfig reads a YAML or JSON configuration file over the defaults,
// upgrades legacy keys and validates the result. The format is determined by
// the file extension (.yaml, .yml, or .json).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return nil, fmt.Errorf("%w: unsupported config file format: %s (supported: .yaml, .yml, .json)",
			core.ErrConfiguration, ext)
	}
}

// ParseYAML decodes YAML configuration over the defaults.
func ParseYAML(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML config: %w", core.ErrConfiguration, err)
		}
	}
	return finish(cfg)
}

// ParseJSON decodes JSON configuration over the defaults.
func ParseJSON(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON config: %w", core.ErrConfiguration, err)
		}
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.Upgrade()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides configuration from environment variables:
//   - PERSISTENCE_MODELS_DIR=/srv/models
//   - PERSISTENCE_TIMEOUT=10s
//   - PERSISTENCE_EVENT_TYPE_PREFIX=app
//   - PERSISTENCE_WATCH=true
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvModelsDir); v != "" {
		c.ModelsDir = v
	}
	if v := getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", core.ErrConfiguration, EnvTimeout, err)
		}
		c.Timeout = d
	}
	if v, ok := lookup(getenv, EnvEventTypePrefix); ok {
		c.EventTypePrefix = v
	}
	if v := getenv(EnvWatch); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", core.ErrConfiguration, EnvWatch, err)
		}
		c.Watch = b
	}
	return nil
}

// lookup treats the value "-" as an explicit empty string, since getenv
// cannot tell an empty variable from an unset one.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	switch v {
	case "":
		return "", false
	case "-":
		return "", true
	}
	return v, true
}

// Upgrade moves the legacy connections and defaults keys onto datastores and
// default model settings. Legacy values win over same-named current ones.
func (c *Config) Upgrade() {
	if len(c.ORM.Connections) > 0 {
		if c.ORM.Datastores == nil {
			c.ORM.Datastores = make(map[string]core.DatastoreConfig, len(c.ORM.Connections))
		}
		for name, ds := range c.ORM.Connections {
			c.ORM.Datastores[name] = ds
		}
	}
	c.ORM.Connections = nil

	if d := c.ORM.Defaults; d != nil {
		if d.Datastore != "" {
			c.ORM.DefaultModelSettings.Datastore = d.Datastore
		}
		if d.Migrate != "" {
			c.ORM.DefaultModelSettings.Migrate = d.Migrate
		}
	}
	c.ORM.Defaults = nil
}

// Validate checks the configuration. Every failure wraps ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if _, err := regexp.Compile(c.pattern()); err != nil {
		errs = append(errs, fmt.Errorf("file_pattern: %w", err))
	}

	if len(c.ORM.Datastores) == 0 && len(c.ORM.Connections) == 0 {
		errs = append(errs, errors.New("orm.datastores is required"))
	}
	for _, name := range sortedNames(c.ORM.Datastores) {
		ds := c.ORM.Datastores[name]
		switch {
		case ds.Adapter == "":
			errs = append(errs, fmt.Errorf("datastore %q: adapter is required", name))
		case c.ORM.Adapters[ds.Adapter] != nil:
		default:
			if err := adapter.Validate(ds); err != nil {
				errs = append(errs, fmt.Errorf("datastore %q: %w", name, err))
			}
		}
	}

	settings := c.ORM.DefaultModelSettings
	if settings.Datastore != "" && len(c.ORM.Datastores) > 0 {
		if _, ok := c.ORM.Datastores[settings.Datastore]; !ok {
			errs = append(errs, fmt.Errorf("default datastore %q is not configured", settings.Datastore))
		}
	}
	switch settings.Migrate {
	case "", orm.MigrateDrop, orm.MigrateAlter, orm.MigrateSafe:
	default:
		errs = append(errs, fmt.Errorf("unknown migrate strategy %q", settings.Migrate))
	}

	if k := c.Events.Kafka; k != nil {
		if err := k.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("events.kafka: %w", err))
		}
	}
	if r := c.Events.Redis; r != nil && r.Addr == "" {
		errs = append(errs, errors.New("events.redis: addr is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}
	return nil
}

// ormConfig returns the configuration handed to the ORM.
func (c *Config) ormConfig() orm.Config {
	return orm.Config{
		Adapters:             c.ORM.Adapters,
		Datastores:           c.ORM.Datastores,
		DefaultModelSettings: c.ORM.DefaultModelSettings,
	}
}

func (c *Config) pattern() string {
	if c.FilePattern == "" {
		return loader.DefaultPattern
	}
	return c.FilePattern
}

// datastoreOf returns the datastore a definition binds to.
func (c *Config) datastoreOf(def *Definition) string {
	switch {
	case def.Datastore != "":
		return def.Datastore
	case def.Connection != "":
		return def.Connection
	default:
		return c.ORM.DefaultModelSettings.Datastore
	}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
