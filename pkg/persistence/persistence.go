// Package persistence is the model registry facade over the ORM. It discovers
// model definitions, registers them, connects the ORM within a timeout,
// publishes the resulting models and dispatches their lifecycle events.
//
// Basic usage:
//
//	p, err := persistence.New(cfg, persistence.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer p.Close(ctx)
//
//	if _, err := p.Connect(ctx); err != nil {
//		return err
//	}
//	users, err := p.GetModel("user")
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/persistence/internal/core"
	"github.com/rzpsarthak13/persistence/internal/events"
	"github.com/rzpsarthak13/persistence/internal/loader"
	"github.com/rzpsarthak13/persistence/internal/model"
	"github.com/rzpsarthak13/persistence/internal/orm"
	"github.com/rzpsarthak13/persistence/internal/registry"
	"github.com/rzpsarthak13/persistence/internal/sink"
)

// State is the connection state of a facade.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateConnecting
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Notification names, prefixed with Config.EventTypePrefix.
const (
	EventReady    = "ready"
	EventError    = "error"
	EventReloaded = "reloaded"
)

// Namespace is the target models are exported onto, keyed by public name.
type Namespace map[string]*Model

// Source produces model definitions in registration order.
type Source interface {
	Load(ctx context.Context) ([]*Definition, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]*Definition, error)

// Load calls f.
func (f SourceFunc) Load(ctx context.Context) ([]*Definition, error) { return f(ctx) }

// Option configures a Persistence.
type Option func(*Persistence)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Persistence) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDispatcher sends model events to s instead of the facade's own bus.
func WithDispatcher(s Sink) Option {
	return func(p *Persistence) {
		p.dispatcher = s
	}
}

// WithDefinitions registers definitions explicitly. Unless WithSource is
// also given, the models directory is not scanned.
func WithDefinitions(defs ...*Definition) Option {
	return func(p *Persistence) {
		p.addExplicit(defs...)
		p.scanDir = false
	}
}

// WithSource replaces the models directory scan with src.
func WithSource(src Source) Option {
	return func(p *Persistence) {
		p.source = src
		p.scanDir = false
	}
}

// WithClock replaces the clock of the ORM's automatic timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Persistence) {
		p.now = now
	}
}

// Persistence is the model registry facade.
type Persistence struct {
	cfg    *Config
	logger *zap.Logger
	bus    *events.Bus

	// dispatcher receives model events. It defaults to the facade itself.
	dispatcher Sink
	asyncSinks []*sink.Async

	source   Source
	scanDir  bool
	explicit []*Definition
	now      func() time.Time

	registry *registry.ModelRegistry

	// connectMu serializes Connect, Reload and Close.
	connectMu sync.Mutex

	mu       sync.RWMutex
	state    State
	err      error
	orm      *orm.ORM
	ontology *orm.Ontology
	models   map[string]*Model
	exports  Namespace

	// pending tracks initializations abandoned after a timeout.
	pending sync.WaitGroup

	closersMu sync.Mutex
	closers   []func() error
}

// New validates cfg and creates a facade. A nil cfg selects DefaultConfig.
// Configuration errors are returned here, before any I/O.
func New(cfg *Config, opts ...Option) (*Persistence, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Upgrade()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Persistence{
		cfg:     cfg,
		logger:  zap.NewNop(),
		bus:     events.NewBus(),
		scanDir: true,
		models:  make(map[string]*Model),
		exports: make(Namespace),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dispatcher == nil {
		p.dispatcher = p
	}

	lm := registry.NewLifecycleManager()
	lm.RegisterHook(registry.HookFunc{OnRegisterFunc: p.checkDatastore})
	p.registry = registry.NewModelRegistry(lm)

	if err := p.startSinks(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Persistence) startSinks() error {
	var publishers []sink.Publisher
	if k := p.cfg.Events.Kafka; k != nil {
		pub, err := sink.NewKafkaPublisher(*k)
		if err != nil {
			return fmt.Errorf("%w: events.kafka: %w", core.ErrConfiguration, err)
		}
		publishers = append(publishers, pub)
	}
	if r := p.cfg.Events.Redis; r != nil {
		pub, err := sink.NewRedisPublisher(*r)
		if err != nil {
			for _, prev := range publishers {
				_ = prev.Close()
			}
			return fmt.Errorf("%w: events.redis: %w", core.ErrConfiguration, err)
		}
		publishers = append(publishers, pub)
	}
	if len(publishers) == 0 {
		return nil
	}

	fanout := sink.Multi{p.dispatcher}
	for _, pub := range publishers {
		async := sink.NewAsync(pub, p.cfg.Events.Async, p.logger.Named("sink"))
		// The drainers outlive any caller context; Close stops them.
		async.Start(context.Background())
		p.asyncSinks = append(p.asyncSinks, async)
		fanout = append(fanout, async)
	}
	p.dispatcher = fanout
	return nil
}

// checkDatastore rejects definitions bound to an unconfigured datastore.
func (p *Persistence) checkDatastore(_ context.Context, def *Definition) error {
	name := p.cfg.datastoreOf(def)
	if _, ok := p.cfg.ORM.Datastores[name]; !ok {
		return fmt.Errorf("%w: model %q references datastore %q which is not in the datastore configuration",
			core.ErrModelValidation, def.Identity, name)
	}
	return nil
}

// Config returns the configuration of the facade.
func (p *Persistence) Config() *Config { return p.cfg }

// State returns the connection state.
func (p *Persistence) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Err returns the error of a failed Connect.
func (p *Persistence) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Register adds a definition to the registry. It takes effect at the next
// Connect or Reload.
func (p *Persistence) Register(ctx context.Context, def *Definition) error {
	if err := p.registry.Register(ctx, def); err != nil {
		return err
	}
	p.mu.Lock()
	p.addExplicit(def)
	p.mu.Unlock()
	return nil
}

// Identities returns the registered identities in registration order.
func (p *Persistence) Identities() []string {
	return p.registry.List()
}

// LoadDirectory registers the definitions found in dir and returns their
// identities in directory order. Every definition is checked against the
// datastore configuration before any is registered. Like Register, the
// definitions take effect at the next Connect or Reload.
func (p *Persistence) LoadDirectory(ctx context.Context, dir string) ([]string, error) {
	src, err := loader.NewSource(dir, p.cfg.pattern())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}
	defs, err := p.loadFrom(ctx, src)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.addExplicit(defs...)
	p.mu.Unlock()
	return identities(defs), nil
}

func (p *Persistence) loadFrom(ctx context.Context, src Source) ([]*Definition, error) {
	defs, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.registry.RegisterAll(ctx, defs); err != nil {
		return nil, err
	}
	p.logger.Debug("models loaded", zap.Strings("identities", identities(defs)))
	return defs, nil
}

// addExplicit records defs by identity. A definition whose identity is
// already recorded replaces it in place.
func (p *Persistence) addExplicit(defs ...*Definition) {
	for _, def := range defs {
		replaced := false
		if def != nil {
			for i, prev := range p.explicit {
				if prev != nil && prev.Identity == def.Identity {
					p.explicit[i] = def
					replaced = true
					break
				}
			}
		}
		if !replaced {
			p.explicit = append(p.explicit, def)
		}
	}
}

func identities(defs []*Definition) []string {
	ids := make([]string, len(defs))
	for i, def := range defs {
		ids[i] = def.Identity
	}
	return ids
}

// Connect loads the definitions, initializes the ORM within Config.Timeout
// and publishes the models. On success it emits "ready" with the ontology;
// on failure it emits "error" with the error and leaves no models cached.
// Connect on a ready facade returns the live ontology and on a failed one
// the original error.
func (p *Persistence) Connect(ctx context.Context) (*Ontology, error) {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	switch state := p.State(); state {
	case StateReady:
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.ontology, nil
	case StateFailed:
		return nil, p.Err()
	case StateClosed:
		return nil, fmt.Errorf("persistence: connect on %s facade", state)
	}
	return p.connect(ctx)
}

func (p *Persistence) connect(ctx context.Context) (*Ontology, error) {
	p.setState(StateLoading)
	if err := p.load(ctx); err != nil {
		return nil, p.fail(err)
	}

	p.setState(StateConnecting)
	o := orm.New(orm.WithLogger(p.logger.Named("orm")), orm.WithClock(p.now))
	exts := make(map[string]*model.Extended)
	for _, def := range p.registry.Definitions() {
		ext, err := model.Extend(def, p)
		if err != nil {
			return nil, p.fail(err)
		}
		if err := o.RegisterModel(ext.ORM); err != nil {
			return nil, p.fail(err)
		}
		exts[def.Identity] = ext
	}

	ontology, err := p.initialize(ctx, o)
	if err != nil {
		return nil, p.fail(err)
	}

	models := make(map[string]*Model, len(ontology.Collections))
	for id, coll := range ontology.Collections {
		m := model.NewModel(coll, exts[id], p.logger)
		models[id] = m
		if err := p.registry.Bind(id, m); err != nil {
			_ = o.Teardown(context.Background())
			p.registry.UnbindAll()
			return nil, p.fail(err)
		}
	}

	p.mu.Lock()
	p.orm = o
	p.ontology = ontology
	p.models = models
	p.state = StateReady
	p.err = nil
	p.mu.Unlock()

	p.Export(nil, nil)
	p.logger.Info("persistence ready", zap.Int("models", len(models)))
	p.notify(EventReady, ontology)
	return ontology, nil
}

// load fills the registry from the explicit definitions and the source.
func (p *Persistence) load(ctx context.Context) error {
	p.registry.Clear(ctx)

	p.mu.RLock()
	explicit := append([]*Definition(nil), p.explicit...)
	p.mu.RUnlock()
	if err := p.registry.RegisterAll(ctx, explicit); err != nil {
		return err
	}

	src := p.source
	if src == nil && p.scanDir {
		s, err := loader.NewSource(p.cfg.ModelsDir, p.cfg.pattern())
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrConfiguration, err)
		}
		src = s
	}
	if src == nil {
		return nil
	}
	_, err := p.loadFrom(ctx, src)
	return err
}

type initResult struct {
	ontology *orm.Ontology
	err      error
}

// initialize runs the ORM initialization bounded by the timeout. The
// initialization itself is not cancelled by the timeout; a late result is
// torn down and discarded.
func (p *Persistence) initialize(ctx context.Context, o *orm.ORM) (*orm.Ontology, error) {
	done := make(chan initResult, 1)
	initCtx := context.WithoutCancel(ctx)
	go func() {
		ont, err := o.Initialize(initCtx, p.cfg.ormConfig())
		done <- initResult{ontology: ont, err: err}
	}()

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	var abandon error
	select {
	case r := <-done:
		switch {
		case r.err != nil:
			return nil, fmt.Errorf("%w: %w", core.ErrORMInitialization, r.err)
		case r.ontology == nil:
			return nil, fmt.Errorf("%w: no ontology returned", core.ErrORMInitialization)
		}
		return r.ontology, nil
	case <-timer.C:
		abandon = fmt.Errorf("%w after %s", core.ErrORMTimeout, p.cfg.Timeout)
	case <-ctx.Done():
		abandon = ctx.Err()
	}

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		if r := <-done; r.err == nil && r.ontology != nil {
			p.logger.Warn("discarding ORM initialized after timeout")
			_ = o.Teardown(context.Background())
		}
	}()
	return nil, abandon
}

func (p *Persistence) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Persistence) fail(err error) error {
	p.mu.Lock()
	p.state = StateFailed
	p.err = err
	p.orm = nil
	p.ontology = nil
	p.models = make(map[string]*Model)
	p.exports = make(Namespace)
	p.mu.Unlock()

	p.logger.Error("persistence failed", zap.Error(err))
	p.notify(EventError, err)
	return err
}

// notify emits a facade notification on the bus.
func (p *Persistence) notify(name string, payload any) {
	p.bus.Emit(events.EventType(p.cfg.EventTypePrefix, name), payload)
}

// GetModel returns the model registered under identity.
func (p *Persistence) GetModel(identity string) (*Model, error) {
	if m := p.GetModelSync(identity); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrModelNotFound, identity)
}

// GetModelSync returns the model registered under identity, or nil.
func (p *Persistence) GetModelSync(identity string) *Model {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.models[identity]
}

// Models returns the connected models by identity.
func (p *Persistence) Models() map[string]*Model {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]*Model, len(p.models))
	for id, m := range p.models {
		out[id] = m
	}
	return out
}

// IterateModels calls fn once per lower case identity in sorted order. It
// skips ignored identities and identities containing an underscore, which
// are auxiliary tables.
func (p *Persistence) IterateModels(fn func(m *Model, identity string), ignored ...string) {
	skip := make(map[string]bool, len(ignored))
	for _, id := range ignored {
		skip[id] = true
	}

	models := p.Models()
	ids := make([]string, 0, len(models))
	for id := range models {
		if skip[id] || strings.Contains(id, "_") || id != strings.ToLower(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fn(models[id], id)
	}
}

// EmitModelEvent dispatches the three events of a mutation to the
// dispatcher.
func (p *Persistence) EmitModelEvent(identity string, action Action, record Record) {
	events.Dispatch(p.dispatcher, p.cfg.EventTypePrefix, identity, action, record)
}

// Emit publishes an event on the facade bus.
func (p *Persistence) Emit(eventType string, payload any) {
	p.bus.Emit(eventType, payload)
}

// On subscribes h to eventType on the facade bus.
func (p *Persistence) On(eventType string, h Handler) {
	p.bus.On(eventType, h)
}

// OnAny subscribes h to every event on the facade bus.
func (p *Persistence) OnAny(h Handler) {
	p.bus.OnAny(h)
}

// Subscribe returns a buffered channel receiving every event of the facade
// bus. Events are dropped while the buffer is full. The channel closes with
// the facade.
func (p *Persistence) Subscribe(buffer int) *Subscription {
	ch := sink.NewChannel(buffer)
	p.bus.OnAny(ch.Emit)
	p.OnClose(func() error {
		ch.Close()
		return nil
	})
	return ch
}

// Reload tears the live ORM down, reloads the definitions and connects again.
// It emits "reloaded" with the new ontology on success.
func (p *Persistence) Reload(ctx context.Context) (*Ontology, error) {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	if p.State() == StateClosed {
		return nil, errors.New("persistence: reload on closed facade")
	}
	if err := p.teardown(ctx); err != nil {
		p.logger.Warn("teardown before reload", zap.Error(err))
	}

	ontology, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	p.notify(EventReloaded, ontology)
	return ontology, nil
}

func (p *Persistence) teardown(ctx context.Context) error {
	p.mu.Lock()
	o := p.orm
	p.orm = nil
	p.ontology = nil
	p.models = make(map[string]*Model)
	p.exports = make(Namespace)
	p.state = StateIdle
	p.err = nil
	p.mu.Unlock()

	p.registry.UnbindAll()
	if o == nil {
		return nil
	}
	return o.Teardown(ctx)
}

// OnClose registers fn to run when the facade closes, in reverse order.
func (p *Persistence) OnClose(fn func() error) {
	p.closersMu.Lock()
	defer p.closersMu.Unlock()
	p.closers = append(p.closers, fn)
}

// Close tears the ORM down, drains the external sinks and waits for any
// initialization abandoned after a timeout.
func (p *Persistence) Close(ctx context.Context) error {
	// Closers run first: a watcher may be waiting on connectMu to reload.
	p.closersMu.Lock()
	closers := p.closers
	p.closers = nil
	p.closersMu.Unlock()
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}

	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	if p.State() == StateClosed {
		return errors.Join(errs...)
	}
	errs = append(errs, p.teardown(ctx))
	p.setState(StateClosed)

	for _, a := range p.asyncSinks {
		errs = append(errs, a.Close(ctx))
	}

	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
