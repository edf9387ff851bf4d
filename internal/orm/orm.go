// Package orm is the object-relational mapper the persistence facade wraps.
// Models are registered first and bound to their datastores by Initialize,
// which returns the ontology of ready collections.
package orm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rzpsarthak13/persistence/internal/adapter"
	"github.com/rzpsarthak13/persistence/internal/core"
)

// Ontology is the result of a successful Initialize.
type Ontology struct {
	// Collections maps model identity to its collection.
	Collections map[string]*Collection

	// Datastores maps datastore name to its live binding.
	Datastores map[string]*Datastore
}

// Datastore is a registered datastore.
type Datastore struct {
	Name    string
	Config  core.DatastoreConfig
	Adapter core.Adapter
}

// ORM holds registered models until Initialize binds them to datastores.
type ORM struct {
	mu          sync.Mutex
	defs        []*ModelDef
	identities  map[string]bool
	ontology    *Ontology
	initialized bool
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures an ORM.
type Option func(*ORM)

// WithLogger sets the logger used by the ORM.
func WithLogger(logger *zap.Logger) Option {
	return func(o *ORM) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces the clock used for automatic timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *ORM) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an empty ORM.
func New(opts ...Option) *ORM {
	o := &ORM{
		identities: make(map[string]bool),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterModel adds a model definition. Definitions are only checked
// against the configuration during Initialize.
func (o *ORM) RegisterModel(def *ModelDef) error {
	if def == nil || def.Identity == "" {
		return fmt.Errorf("%w: model identity is required", core.ErrModelValidation)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.initialized {
		return fmt.Errorf("%w: cannot register %q after initialize", core.ErrModelValidation, def.Identity)
	}
	if o.identities[def.Identity] {
		return fmt.Errorf("%w: model %q already registered", core.ErrModelValidation, def.Identity)
	}
	o.identities[def.Identity] = true
	o.defs = append(o.defs, def)
	return nil
}

// Initialize binds every registered model to its datastore, registers the
// datastores with their adapters concurrently and returns the ontology.
func (o *ORM) Initialize(ctx context.Context, cfg Config) (*Ontology, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.initialized {
		return nil, errors.New("orm: already initialized")
	}

	ontology := &Ontology{
		Collections: make(map[string]*Collection, len(o.defs)),
		Datastores:  make(map[string]*Datastore),
	}
	schemas := make(map[string][]*core.ModelSchema)

	for _, def := range o.defs {
		coll, err := o.bind(def, cfg)
		if err != nil {
			return nil, err
		}
		ontology.Collections[def.Identity] = coll
		schemas[coll.datastore] = append(schemas[coll.datastore], coll.schema)
	}

	adapters := make(map[string]core.Adapter)
	for name := range schemas {
		dsCfg := cfg.Datastores[name]
		a, ok := adapters[dsCfg.Adapter]
		if !ok {
			var err error
			a, err = resolveAdapter(cfg, dsCfg.Adapter)
			if err != nil {
				return nil, fmt.Errorf("datastore %q: %w", name, err)
			}
			adapters[dsCfg.Adapter] = a
		}
		ontology.Datastores[name] = &Datastore{Name: name, Config: dsCfg, Adapter: a}
	}
	for _, coll := range ontology.Collections {
		coll.adapter = ontology.Datastores[coll.datastore].Adapter
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, ds := range ontology.Datastores {
		name, ds := name, ds
		g.Go(func() error {
			if err := ds.Adapter.RegisterDatastore(gctx, name, ds.Config, schemas[name]); err != nil {
				return fmt.Errorf("register datastore %q: %w", name, err)
			}
			o.logger.Debug("datastore registered",
				zap.String("datastore", name),
				zap.String("adapter", ds.Adapter.Identity()),
				zap.Int("models", len(schemas[name])))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for name, ds := range ontology.Datastores {
			_ = ds.Adapter.Teardown(context.Background(), name)
		}
		return nil, err
	}

	o.initialized = true
	o.ontology = ontology
	return ontology, nil
}

// Teardown releases every datastore of an initialized ORM. It is a no-op on
// an ORM that never initialized.
func (o *ORM) Teardown(ctx context.Context) error {
	o.mu.Lock()
	ontology := o.ontology
	o.ontology = nil
	o.mu.Unlock()

	if ontology == nil {
		return nil
	}

	names := make([]string, 0, len(ontology.Datastores))
	for name := range ontology.Datastores {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := ontology.Datastores[name].Adapter.Teardown(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("teardown datastore %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (o *ORM) bind(def *ModelDef, cfg Config) (*Collection, error) {
	resolved := *def
	if resolved.Datastore == "" {
		resolved.Datastore = cfg.DefaultModelSettings.Datastore
	}
	if _, ok := cfg.Datastores[resolved.Datastore]; !ok {
		return nil, fmt.Errorf("%w: model %q references unknown datastore %q",
			core.ErrModelValidation, def.Identity, resolved.Datastore)
	}
	if resolved.Migrate == "" {
		resolved.Migrate = cfg.DefaultModelSettings.Migrate
	}
	if resolved.Migrate == "" {
		resolved.Migrate = MigrateAlter
	}
	switch resolved.Migrate {
	case MigrateDrop, MigrateAlter, MigrateSafe:
	default:
		return nil, fmt.Errorf("%w: model %q has unknown migrate strategy %q",
			core.ErrModelValidation, def.Identity, resolved.Migrate)
	}
	if resolved.TableName == "" {
		resolved.TableName = def.Identity
	}
	if resolved.PrimaryKey == "" {
		resolved.PrimaryKey = "id"
	}

	coll := &Collection{
		def:       &resolved,
		attrs:     make(map[string]*Attribute, len(def.Attributes)),
		toAttr:    make(map[string]string, len(def.Attributes)),
		datastore: resolved.Datastore,
		now:       o.now,
	}

	for name := range def.Attributes {
		coll.order = append(coll.order, name)
	}
	sort.Strings(coll.order)

	parsed := make([]*Attribute, 0, len(coll.order))
	for _, name := range coll.order {
		spec := def.Attributes[name]
		if spec == nil {
			return nil, fmt.Errorf("%w: model %q attribute %q is nil", core.ErrModelValidation, def.Identity, name)
		}
		attr, err := parseAttribute(def.Identity, name, spec)
		if err != nil {
			return nil, err
		}
		if other, taken := coll.toAttr[attr.ColumnName]; taken {
			return nil, fmt.Errorf("%w: model %q attributes %q and %q share column %q",
				core.ErrModelValidation, def.Identity, other, name, attr.ColumnName)
		}
		coll.attrs[name] = attr
		coll.toAttr[attr.ColumnName] = name
		parsed = append(parsed, attr)
	}

	if _, ok := coll.attrs[resolved.PrimaryKey]; !ok {
		return nil, fmt.Errorf("%w: model %q primary key %q is not an attribute",
			core.ErrModelValidation, def.Identity, resolved.PrimaryKey)
	}

	coll.schema = schemaFor(&resolved, parsed)
	return coll, nil
}

func resolveAdapter(cfg Config, name string) (core.Adapter, error) {
	if a, ok := cfg.Adapters[name]; ok && a != nil {
		return a, nil
	}
	return adapter.New(name)
}
