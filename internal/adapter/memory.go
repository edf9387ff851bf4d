package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// Memory is an adapter that keeps records in process memory. Data survives
// re-registration of a datastore on the same instance unless the model
// migrates with "drop".
type Memory struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

type memoryStore struct {
	tables map[string]*memoryTable
}

type memoryTable struct {
	schema *core.ModelSchema
	rows   []core.Record
	seq    int64
}

// NewMemory creates an empty memory adapter.
func NewMemory() *Memory {
	return &Memory{stores: make(map[string]*memoryStore)}
}

// Identity returns "memory".
func (m *Memory) Identity() string { return "memory" }

// RegisterDatastore prepares a table per schema.
func (m *Memory) RegisterDatastore(_ context.Context, name string, _ core.DatastoreConfig, schemas []*core.ModelSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, ok := m.stores[name]
	if !ok {
		store = &memoryStore{tables: make(map[string]*memoryTable)}
		m.stores[name] = store
	}
	for _, schema := range schemas {
		existing, exists := store.tables[schema.TableName]
		if exists && schema.Migrate != "drop" {
			existing.schema = schema
			continue
		}
		store.tables[schema.TableName] = &memoryTable{schema: schema}
	}
	return nil
}

// Create stores a record.
func (m *Memory) Create(_ context.Context, datastore, table string, record core.Record) (core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.table(datastore, table)
	if err != nil {
		return nil, err
	}

	rec := record.Clone()
	pk := t.schema.PrimaryKey
	if col := t.schema.Column(pk); col != nil && col.AutoIncrement && rec[pk] == nil {
		t.seq++
		rec[pk] = t.seq
	} else if n, ok := core.ToFloat(rec[pk]); ok && int64(n) > t.seq {
		t.seq = int64(n)
	}
	if err := t.checkUnique(rec, -1); err != nil {
		return nil, err
	}
	t.rows = append(t.rows, rec)
	return rec.Clone(), nil
}

// Find returns copies of every matching record.
func (m *Memory) Find(_ context.Context, datastore, table string, criteria core.Criteria) ([]core.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.table(datastore, table)
	if err != nil {
		return nil, err
	}
	var out []core.Record
	for _, row := range t.rows {
		if criteria.Matches(row) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

// Update merges values into every matching record.
func (m *Memory) Update(_ context.Context, datastore, table string, criteria core.Criteria, values core.Record) ([]core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.table(datastore, table)
	if err != nil {
		return nil, err
	}

	var matched []int
	for i, row := range t.rows {
		if criteria.Matches(row) {
			matched = append(matched, i)
		}
	}

	next := make([]core.Record, len(matched))
	for j, i := range matched {
		merged := t.rows[i].Clone()
		for k, v := range values {
			merged[k] = v
		}
		if err := t.checkUnique(merged, i); err != nil {
			return nil, err
		}
		next[j] = merged
	}

	out := make([]core.Record, 0, len(matched))
	for j, i := range matched {
		t.rows[i] = next[j]
		out = append(out, next[j].Clone())
	}
	return out, nil
}

// Destroy removes every matching record.
func (m *Memory) Destroy(_ context.Context, datastore, table string, criteria core.Criteria) ([]core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.table(datastore, table)
	if err != nil {
		return nil, err
	}
	kept := t.rows[:0]
	var removed []core.Record
	for _, row := range t.rows {
		if criteria.Matches(row) {
			removed = append(removed, row)
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return removed, nil
}

// Teardown forgets the datastore and its records.
func (m *Memory) Teardown(_ context.Context, datastore string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, datastore)
	return nil
}

func (m *Memory) table(datastore, table string) (*memoryTable, error) {
	store, ok := m.stores[datastore]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrClosed, datastore)
	}
	t, ok := store.tables[table]
	if !ok {
		return nil, fmt.Errorf("datastore %s has no table %s", datastore, table)
	}
	return t, nil
}

// checkUnique rejects rec when a unique column collides with another row.
// skip is the index of the row being replaced, or -1.
func (t *memoryTable) checkUnique(rec core.Record, skip int) error {
	for _, col := range t.schema.Columns {
		if !col.Unique && col.Name != t.schema.PrimaryKey {
			continue
		}
		value, ok := rec[col.Name]
		if !ok || value == nil {
			continue
		}
		for i, row := range t.rows {
			if i != skip && core.Equal(row[col.Name], value) {
				return fmt.Errorf("%w: %s.%s must be unique, %v already exists",
					core.ErrValidation, t.schema.TableName, col.Name, value)
			}
		}
	}
	return nil
}

// MemoryFactory creates memory adapters.
type MemoryFactory struct{}

// Type returns "memory".
func (f *MemoryFactory) Type() string { return "memory" }

// Create returns a new memory adapter.
func (f *MemoryFactory) Create() (core.Adapter, error) { return NewMemory(), nil }

// Validate accepts any configuration.
func (f *MemoryFactory) Validate(core.DatastoreConfig) error { return nil }

func init() {
	RegisterFactory(&MemoryFactory{})
}
