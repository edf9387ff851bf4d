package orm

import (
	"context"
	"fmt"
	"time"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// Collection is a registered model bound to its datastore. It is safe for
// concurrent use; concurrency control over the stored data is left to the
// adapter.
type Collection struct {
	def       *ModelDef
	attrs     map[string]*Attribute
	order     []string
	toAttr    map[string]string
	schema    *core.ModelSchema
	adapter   core.Adapter
	datastore string
	now       func() time.Time
}

// Identity returns the model identity.
func (c *Collection) Identity() string { return c.def.Identity }

// GlobalID returns the model's global id, which may be empty.
func (c *Collection) GlobalID() string { return c.def.GlobalID }

// PrimaryKey returns the name of the primary key attribute.
func (c *Collection) PrimaryKey() string { return c.def.PrimaryKey }

// Datastore returns the name of the datastore the model is bound to.
func (c *Collection) Datastore() string { return c.datastore }

// TableName returns the physical table name.
func (c *Collection) TableName() string { return c.def.TableName }

// Schema returns the adapter facing schema of the model.
func (c *Collection) Schema() *core.ModelSchema { return c.schema }

// Attribute returns the parsed attribute with the given name, or nil.
func (c *Collection) Attribute(name string) *Attribute { return c.attrs[name] }

// Create validates and stores a new record, running the create callbacks.
func (c *Collection) Create(ctx context.Context, values core.Record) (core.Record, error) {
	rec := values.Clone()
	if rec == nil {
		rec = core.Record{}
	}

	now := c.now()
	for _, name := range c.order {
		attr := c.attrs[name]
		if _, ok := rec[name]; ok {
			continue
		}
		switch {
		case attr.AutoCreatedAt || attr.AutoUpdatedAt:
			rec[name] = timestamp(attr.Type, now)
		case attr.HasDefault:
			rec[name] = attr.DefaultsTo
		}
	}

	if err := run(ctx, c.def.Callbacks.BeforeCreate, rec); err != nil {
		return nil, err
	}
	if err := c.validate(rec, true); err != nil {
		return nil, err
	}

	stored, err := c.adapter.Create(ctx, c.datastore, c.def.TableName, c.toColumns(rec))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", c.def.Identity, err)
	}
	created := c.fromColumns(stored)

	if err := run(ctx, c.def.Callbacks.AfterCreate, created); err != nil {
		return nil, err
	}
	return created, nil
}

// CreateEach creates the records in order and stops at the first failure.
func (c *Collection) CreateEach(ctx context.Context, values []core.Record) ([]core.Record, error) {
	created := make([]core.Record, 0, len(values))
	for _, v := range values {
		rec, err := c.Create(ctx, v)
		if err != nil {
			return created, err
		}
		created = append(created, rec)
	}
	return created, nil
}

// Find returns every record matching the criteria.
func (c *Collection) Find(ctx context.Context, criteria core.Criteria) ([]core.Record, error) {
	rows, err := c.adapter.Find(ctx, c.datastore, c.def.TableName, c.criteriaColumns(criteria))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.def.Identity, err)
	}
	out := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, c.fromColumns(row))
	}
	return out, nil
}

// FindOne returns the single record matching the criteria. It returns
// core.ErrRecordNotFound when nothing matches and core.ErrMultipleRecords when
// more than one record does.
func (c *Collection) FindOne(ctx context.Context, criteria core.Criteria) (core.Record, error) {
	rows, err := c.Find(ctx, criteria)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%w: %s", core.ErrRecordNotFound, c.def.Identity)
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matched %d records", core.ErrMultipleRecords, c.def.Identity, len(rows))
	}
}

// Count returns the number of records matching the criteria.
func (c *Collection) Count(ctx context.Context, criteria core.Criteria) (int, error) {
	rows, err := c.Find(ctx, criteria)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Update applies values to every matching record and runs the update
// callbacks once per updated record.
func (c *Collection) Update(ctx context.Context, criteria core.Criteria, values core.Record) ([]core.Record, error) {
	rec := values.Clone()
	if rec == nil {
		rec = core.Record{}
	}
	delete(rec, c.def.PrimaryKey)

	now := c.now()
	for _, name := range c.order {
		if attr := c.attrs[name]; attr.AutoUpdatedAt {
			rec[name] = timestamp(attr.Type, now)
		}
	}

	if err := run(ctx, c.def.Callbacks.BeforeUpdate, rec); err != nil {
		return nil, err
	}
	if err := c.validate(rec, false); err != nil {
		return nil, err
	}

	rows, err := c.adapter.Update(ctx, c.datastore, c.def.TableName, c.criteriaColumns(criteria), c.toColumns(rec))
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", c.def.Identity, err)
	}
	updated := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		r := c.fromColumns(row)
		if err := run(ctx, c.def.Callbacks.AfterUpdate, r); err != nil {
			return nil, err
		}
		updated = append(updated, r)
	}
	return updated, nil
}

// UpdateOne updates the single record matching the criteria.
func (c *Collection) UpdateOne(ctx context.Context, criteria core.Criteria, values core.Record) (core.Record, error) {
	if _, err := c.FindOne(ctx, criteria); err != nil {
		return nil, err
	}
	rows, err := c.Update(ctx, criteria, values)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrRecordNotFound, c.def.Identity)
	}
	return rows[0], nil
}

// Destroy removes every matching record and runs the destroy callbacks once
// per removed record. BeforeDestroy receives the criteria.
func (c *Collection) Destroy(ctx context.Context, criteria core.Criteria) ([]core.Record, error) {
	if err := run(ctx, c.def.Callbacks.BeforeDestroy, core.Record(criteria)); err != nil {
		return nil, err
	}

	rows, err := c.adapter.Destroy(ctx, c.datastore, c.def.TableName, c.criteriaColumns(criteria))
	if err != nil {
		return nil, fmt.Errorf("destroy %s: %w", c.def.Identity, err)
	}
	destroyed := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		r := c.fromColumns(row)
		if err := run(ctx, c.def.Callbacks.AfterDestroy, r); err != nil {
			return nil, err
		}
		destroyed = append(destroyed, r)
	}
	return destroyed, nil
}

func run(ctx context.Context, hook core.Hook, rec core.Record) error {
	if hook == nil {
		return nil
	}
	return hook(ctx, rec)
}

func timestamp(typ string, t time.Time) any {
	if typ == "string" {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UnixMilli()
}

func (c *Collection) toColumns(rec core.Record) core.Record {
	out := make(core.Record, len(rec))
	for name, value := range rec {
		if attr, ok := c.attrs[name]; ok {
			out[attr.ColumnName] = value
			continue
		}
		out[name] = value
	}
	return out
}

func (c *Collection) fromColumns(row core.Record) core.Record {
	out := make(core.Record, len(row))
	for col, value := range row {
		if name, ok := c.toAttr[col]; ok {
			out[name] = value
			continue
		}
		out[col] = value
	}
	return out
}

func (c *Collection) criteriaColumns(criteria core.Criteria) core.Criteria {
	if criteria == nil {
		return core.Criteria{}
	}
	return core.Criteria(c.toColumns(core.Record(criteria)))
}
