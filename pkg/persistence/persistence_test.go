package persistence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/rzpsarthak13/persistence/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type emitted struct {
	eventType string
	payload   any
}

type recordingSink struct {
	mu     sync.Mutex
	events []emitted
}

func (s *recordingSink) Emit(eventType string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, emitted{eventType, payload})
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.eventType
	}
	return out
}

// stubAdapter wraps the memory adapter behaviour needed by the facade tests
// and lets them block or fail datastore registration.
type stubAdapter struct {
	release  chan struct{}
	fail     error
	teardown chan string
}

func (a *stubAdapter) Identity() string { return "stub" }

func (a *stubAdapter) RegisterDatastore(ctx context.Context, _ string, _ core.DatastoreConfig, _ []*core.ModelSchema) error {
	if a.release != nil {
		<-a.release
	}
	return a.fail
}

func (a *stubAdapter) Create(context.Context, string, string, core.Record) (core.Record, error) {
	return nil, errors.New("not implemented")
}

func (a *stubAdapter) Find(context.Context, string, string, core.Criteria) ([]core.Record, error) {
	return nil, nil
}

func (a *stubAdapter) Update(context.Context, string, string, core.Criteria, core.Record) ([]core.Record, error) {
	return nil, nil
}

func (a *stubAdapter) Destroy(context.Context, string, string, core.Criteria) ([]core.Record, error) {
	return nil, nil
}

func (a *stubAdapter) Teardown(_ context.Context, datastore string) error {
	if a.teardown != nil {
		a.teardown <- datastore
	}
	return nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := defaultConfig(func(string) string { return "" })
	cfg.ModelsDir = filepath.Join(t.TempDir(), "models")
	return cfg
}

func userDef() *Definition {
	return &Definition{
		Identity: "user",
		Attributes: Attributes{
			"name": {"type": "string"},
		},
	}
}

func newPersistence(t *testing.T, cfg *Config, opts ...Option) *Persistence {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	p, err := New(cfg, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close(context.Background())) })
	return p
}

func TestNew_RejectsMissingDatastores(t *testing.T) {
	cfg := testConfig(t)
	cfg.ORM.Datastores = nil
	cfg.ORM.DefaultModelSettings.Datastore = ""

	_, err := New(cfg)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestNew_UpgradesLegacyConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ORM.Datastores = nil
	cfg.ORM.Connections = map[string]DatastoreConfig{"legacy": {Adapter: "memory"}}
	cfg.ORM.Defaults = &ModelSettings{Datastore: "legacy"}

	p := newPersistence(t, cfg, WithDefinitions(userDef()))
	_, err := p.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "legacy", p.GetModelSync("user").Datastore())
}

func TestConnect_PublishesModels(t *testing.T) {
	p := newPersistence(t, nil, WithDefinitions(userDef()))

	var ready []any
	p.On("persistence.ready", func(_ string, payload any) { ready = append(ready, payload) })

	assert.Equal(t, StateIdle, p.State())
	ontology, err := p.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, p.State())
	require.Len(t, ready, 1)
	assert.Same(t, ontology, ready[0])

	m, err := p.GetModel("user")
	require.NoError(t, err)
	assert.Same(t, m, p.Exports()["User"])
	assert.Same(t, m, p.GetModelSync("user"))

	again, err := p.Connect(context.Background())
	require.NoError(t, err)
	assert.Same(t, ontology, again)
	assert.Len(t, ready, 1)
}

func TestGetModel_Unknown(t *testing.T) {
	p := newPersistence(t, nil, WithDefinitions(userDef()))
	_, err := p.GetModel("user")
	require.ErrorIs(t, err, ErrModelNotFound)

	_, err = p.Connect(context.Background())
	require.NoError(t, err)

	_, err = p.GetModel("pet")
	require.ErrorIs(t, err, ErrModelNotFound)
	assert.Nil(t, p.GetModelSync("pet"))
}

func TestEmitModelEvent_EmitsThreeEvents(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{name: "default prefix", prefix: DefaultEventTypePrefix, want: []string{"persistence.user.update", "persistence.user.*", "persistence.*"}},
		{name: "no prefix", prefix: "", want: []string{"user.update", "user.*", "*"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.EventTypePrefix = tt.prefix
			recorder := &recordingSink{}
			p := newPersistence(t, cfg, WithDefinitions(), WithDispatcher(recorder))

			record := Record{"id": "1"}
			p.EmitModelEvent("user", ActionUpdate, record)

			require.Equal(t, tt.want, recorder.types())
			for i, e := range recorder.events {
				ev, ok := e.payload.(Event)
				require.True(t, ok)
				assert.Equal(t, tt.want[i], ev.Type)
				assert.Equal(t, "user", ev.Identity)
				assert.Equal(t, ActionUpdate, ev.Action)
				assert.Equal(t, reflect.ValueOf(record).UnsafePointer(), reflect.ValueOf(ev.Record).UnsafePointer())
			}
		})
	}
}

func TestModelMutations_ReachDispatcher(t *testing.T) {
	recorder := &recordingSink{}
	p := newPersistence(t, nil, WithDefinitions(userDef()), WithDispatcher(recorder))
	_, err := p.Connect(context.Background())
	require.NoError(t, err)

	m, err := p.GetModel("user")
	require.NoError(t, err)
	ctx := context.Background()
	rec, err := m.Create(ctx, Record{"name": "ada"})
	require.NoError(t, err)
	_, err = m.Update(ctx, Criteria{"id": rec["id"]}, Record{"name": "grace"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"persistence.user.create", "persistence.user.*", "persistence.*",
		"persistence.user.update", "persistence.user.*", "persistence.*",
	}, recorder.types())
	assert.Equal(t, rec["id"], recorder.events[0].payload.(Event).Record["id"])
}

func TestModelEvents_DefaultToBus(t *testing.T) {
	p := newPersistence(t, nil, WithDefinitions(userDef()))
	_, err := p.Connect(context.Background())
	require.NoError(t, err)

	var got []string
	p.On("persistence.user.*", func(eventType string, payload any) {
		got = append(got, payload.(Event).Type)
	})
	_, err = p.GetModelSync("user").Create(context.Background(), Record{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, []string{"persistence.user.*"}, got)
}

func writeModel(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDirectory_ValidatesBeforeRegistering(t *testing.T) {
	p := newPersistence(t, nil)
	dir := t.TempDir()
	writeModel(t, dir, "a.yaml", "identity: a\ndatastore: development\n")
	writeModel(t, dir, "b.yaml", "identity: b\ndatastore: missing\n")

	_, err := p.LoadDirectory(context.Background(), dir)
	require.ErrorIs(t, err, ErrModelValidation)
	assert.Contains(t, err.Error(), `"missing"`)
	assert.Empty(t, p.Identities())
}

func TestLoadDirectory_ReturnsIdentities(t *testing.T) {
	p := newPersistence(t, nil)
	dir := t.TempDir()
	writeModel(t, dir, "Pet.yaml", "attributes:\n  species:\n    type: string\n")
	writeModel(t, dir, "user.json", `{"identity": "user"}`)

	ids, err := p.LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"pet", "user"}, ids)
	assert.Equal(t, ids, p.Identities())
}

func TestLoadDirectory_Twice(t *testing.T) {
	p := newPersistence(t, nil, WithDefinitions())
	dir := t.TempDir()
	writeModel(t, dir, "pet.yaml", "attributes:\n  species:\n    type: string\n")
	ctx := context.Background()

	_, err := p.LoadDirectory(ctx, dir)
	require.NoError(t, err)
	ids, err := p.LoadDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"pet"}, ids)

	_, err = p.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pet"}, p.Identities())
	assert.NotNil(t, p.GetModelSync("pet"))
}

func TestConnect_ScansModelsDir(t *testing.T) {
	cfg := testConfig(t)
	writeModel(t, cfg.ModelsDir, "Pet.yaml", "attributes:\n  species:\n    type: string\n")

	p := newPersistence(t, cfg)
	_, err := p.Connect(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, p.Exports()["Pet"])
}

func TestConnect_MissingDirectory(t *testing.T) {
	p := newPersistence(t, nil)
	var failures []any
	p.On("persistence.error", func(_ string, payload any) { failures = append(failures, payload) })

	_, err := p.Connect(context.Background())
	require.ErrorIs(t, err, ErrDirectoryNotFound)
	assert.Equal(t, StateFailed, p.State())
	require.Len(t, failures, 1)
	assert.Equal(t, err, failures[0])

	_, again := p.Connect(context.Background())
	assert.Equal(t, err, again)
}

func stubConfig(t *testing.T, a *stubAdapter) *Config {
	cfg := testConfig(t)
	cfg.ORM.Adapters = map[string]Adapter{"stub": a}
	cfg.ORM.Datastores = map[string]DatastoreConfig{"development": {Adapter: "stub"}}
	return cfg
}

func TestConnect_Timeout(t *testing.T) {
	a := &stubAdapter{release: make(chan struct{}), teardown: make(chan string, 1)}
	cfg := stubConfig(t, a)
	cfg.Timeout = 50 * time.Millisecond
	p := newPersistence(t, cfg, WithDefinitions(userDef()))

	_, err := p.Connect(context.Background())
	require.ErrorIs(t, err, ErrORMTimeout)
	assert.Equal(t, StateFailed, p.State())

	close(a.release)
	select {
	case name := <-a.teardown:
		assert.Equal(t, "development", name)
	case <-time.After(2 * time.Second):
		t.Fatal("late initialization was not torn down")
	}

	assert.Equal(t, StateFailed, p.State())
	assert.Nil(t, p.GetModelSync("user"))
	assert.Empty(t, p.Exports())
	assert.ErrorIs(t, p.Err(), ErrORMTimeout)
}

func TestConnect_ORMFailure(t *testing.T) {
	a := &stubAdapter{fail: errors.New("connection refused")}
	p := newPersistence(t, stubConfig(t, a), WithDefinitions(userDef()))

	_, err := p.Connect(context.Background())
	require.ErrorIs(t, err, ErrORMInitialization)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, p.Models())
}

func TestConnect_UnknownDatastoreFailsWholeConnect(t *testing.T) {
	def := userDef()
	def.Datastore = "missing"
	p := newPersistence(t, nil, WithDefinitions(&Definition{Identity: "pet"}, def))

	_, err := p.Connect(context.Background())
	require.ErrorIs(t, err, ErrModelValidation)
	assert.Empty(t, p.Identities())
	assert.Empty(t, p.Models())
}

func TestExport(t *testing.T) {
	p := newPersistence(t, nil, WithDefinitions(
		&Definition{Identity: "animal", GlobalID: "Beast", ExportName: "Critter"},
		&Definition{Identity: "person", ExportName: "Human"},
		&Definition{Identity: "pet"},
	))
	_, err := p.Connect(context.Background())
	require.NoError(t, err)

	ns := Namespace{"Existing": nil}
	p.Export(nil, ns)
	assert.ElementsMatch(t, []string{"Existing", "Beast", "Human", "Pet"}, keys(ns))

	delete(ns, "Pet")
	p.Export(nil, ns)
	assert.Same(t, p.GetModelSync("pet"), ns["Pet"])
}

func TestExport_SkipsJunctionNames(t *testing.T) {
	cfg := testConfig(t)
	p := newPersistence(t, cfg, WithDefinitions(&Definition{Identity: "pet"}, &Definition{Identity: "user", GlobalID: "User__pets"}))
	_, err := p.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Pet"}, keys(p.Exports()))

	cfg.SkipExport = func(string) bool { return false }
	ns := Namespace{}
	p.Export(nil, ns)
	assert.ElementsMatch(t, []string{"Pet", "User__pets"}, keys(ns))
}

func TestIsJunctionName(t *testing.T) {
	assert.True(t, IsJunctionName("user-pets"))
	assert.True(t, IsJunctionName("user__pets"))
	assert.False(t, IsJunctionName("User"))
	assert.False(t, IsJunctionName("ab-c"))
}

func TestIterateModels(t *testing.T) {
	p := newPersistence(t, nil, WithDefinitions(
		&Definition{Identity: "user"},
		&Definition{Identity: "User"},
		&Definition{Identity: "pet"},
		&Definition{Identity: "pet_tag"},
	))
	_, err := p.Connect(context.Background())
	require.NoError(t, err)

	var visited []string
	p.IterateModels(func(m *Model, identity string) {
		assert.Equal(t, identity, m.Identity())
		visited = append(visited, identity)
	})
	assert.Equal(t, []string{"pet", "user"}, visited)

	visited = nil
	p.IterateModels(func(_ *Model, identity string) { visited = append(visited, identity) }, "pet")
	assert.Equal(t, []string{"user"}, visited)
}

func TestIterateModels_NotConnected(t *testing.T) {
	p := newPersistence(t, nil, WithDefinitions(userDef()))
	called := false
	p.IterateModels(func(*Model, string) { called = true })
	assert.False(t, called)
}

func TestReload(t *testing.T) {
	p := newPersistence(t, nil, WithDefinitions(userDef()))
	_, err := p.Connect(context.Background())
	require.NoError(t, err)
	before := p.GetModelSync("user")

	var reloaded int
	p.On("persistence.reloaded", func(string, any) { reloaded++ })

	_, err = p.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded)
	assert.Equal(t, StateReady, p.State())
	after := p.GetModelSync("user")
	require.NotNil(t, after)
	assert.NotSame(t, before, after)

	_, err = before.Find(context.Background(), Criteria{})
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestReload_DropsRemovedModels(t *testing.T) {
	cfg := testConfig(t)
	writeModel(t, cfg.ModelsDir, "Pet.yaml", "attributes:\n  species:\n    type: string\n")
	writeModel(t, cfg.ModelsDir, "Dog.yaml", "attributes:\n  breed:\n    type: string\n")

	p := newPersistence(t, cfg)
	_, err := p.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Dog", "Pet"}, keys(p.Exports()))

	require.NoError(t, os.Remove(filepath.Join(cfg.ModelsDir, "Dog.yaml")))
	_, err = p.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Pet"}, keys(p.Exports()))
	assert.Nil(t, p.GetModelSync("dog"))
	assert.Same(t, p.GetModelSync("pet"), p.Exports()["Pet"])
}

func TestRegister_SameIdentityReplaces(t *testing.T) {
	p := newPersistence(t, nil, WithDefinitions())
	ctx := context.Background()
	require.NoError(t, p.Register(ctx, userDef()))

	second := userDef()
	second.Attributes["email"] = FieldSpec{"type": "string"}
	require.NoError(t, p.Register(ctx, second))

	_, err := p.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, p.Identities())

	rec, err := p.GetModelSync("user").Create(ctx, Record{"name": "ada", "email": "ada@x.io"})
	require.NoError(t, err)
	assert.Equal(t, "ada@x.io", rec["email"])
}

func TestRegister(t *testing.T) {
	p := newPersistence(t, nil, WithDefinitions())
	ctx := context.Background()
	require.NoError(t, p.Register(ctx, userDef()))

	bad := &Definition{Identity: "pet", Datastore: "missing"}
	require.ErrorIs(t, p.Register(ctx, bad), ErrModelValidation)

	_, err := p.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, p.Identities())
	assert.NotNil(t, p.GetModelSync("user"))
}

func TestClose(t *testing.T) {
	cfg := testConfig(t)
	p, err := New(cfg, WithDefinitions(userDef()))
	require.NoError(t, err)
	_, err = p.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, StateClosed, p.State())
	_, err = p.Connect(context.Background())
	require.Error(t, err)
}

func TestSubscribe(t *testing.T) {
	p, err := New(testConfig(t), WithDefinitions(userDef()))
	require.NoError(t, err)
	sub := p.Subscribe(8)

	_, err = p.Connect(context.Background())
	require.NoError(t, err)
	_, err = p.GetModelSync("user").Create(context.Background(), Record{"name": "ada"})
	require.NoError(t, err)
	require.NoError(t, p.Close(context.Background()))

	var types []string
	for d := range sub.C() {
		types = append(types, d.Type)
	}
	assert.Equal(t, []string{
		"persistence.ready",
		"persistence.user.create", "persistence.user.*", "persistence.*",
	}, types)
}

func keys(ns Namespace) []string {
	out := make([]string, 0, len(ns))
	for k := range ns {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
