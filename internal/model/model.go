package model

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/persistence/internal/core"
	"github.com/rzpsarthak13/persistence/internal/orm"
)

// Model is the handle callers use to work with a registered model. It wraps
// the ORM collection and runs the pre-validation defaults hook on creates.
type Model struct {
	coll     *orm.Collection
	ext      *Extended
	logger   *zap.Logger
	validate core.Hook
}

// NewModel binds a compiled definition to its initialized collection.
func NewModel(coll *orm.Collection, ext *Extended, logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{
		coll:     coll,
		ext:      ext,
		logger:   logger.With(zap.String("model", coll.Identity())),
		validate: ext.Validate,
	}
}

// Identity returns the model identity.
func (m *Model) Identity() string { return m.coll.Identity() }

// GlobalID returns the model's global id, which may be empty.
func (m *Model) GlobalID() string { return m.coll.GlobalID() }

// ExportName returns the name the model is published under.
func (m *Model) ExportName() string {
	return ExportName(m.coll.GlobalID(), m.ext.Definition.ExportName, m.coll.Identity())
}

// PrimaryKey returns the primary key attribute name.
func (m *Model) PrimaryKey() string { return m.coll.PrimaryKey() }

// Datastore returns the datastore the model is bound to.
func (m *Model) Datastore() string { return m.coll.Datastore() }

// Definition returns the merged definition of the model.
func (m *Model) Definition() *Definition { return m.ext.Definition }

// Collection returns the underlying ORM collection.
func (m *Model) Collection() *orm.Collection { return m.coll }

// Create applies defaults, runs BeforeValidate and creates the record.
func (m *Model) Create(ctx context.Context, values core.Record) (core.Record, error) {
	rec := values.Clone()
	if rec == nil {
		rec = core.Record{}
	}
	if err := m.validate(ctx, rec); err != nil {
		return nil, err
	}
	return m.coll.Create(ctx, rec)
}

// CreateEach applies defaults to every record, then creates them in order.
func (m *Model) CreateEach(ctx context.Context, values []core.Record) ([]core.Record, error) {
	recs := make([]core.Record, len(values))
	for i, v := range values {
		rec := v.Clone()
		if rec == nil {
			rec = core.Record{}
		}
		if err := m.validate(ctx, rec); err != nil {
			return nil, err
		}
		recs[i] = rec
	}
	return m.coll.CreateEach(ctx, recs)
}

// Find returns every record matching criteria.
func (m *Model) Find(ctx context.Context, criteria core.Criteria) ([]core.Record, error) {
	return m.coll.Find(ctx, criteria)
}

// FindOne returns the single record matching criteria.
func (m *Model) FindOne(ctx context.Context, criteria core.Criteria) (core.Record, error) {
	return m.coll.FindOne(ctx, criteria)
}

// Count returns the number of records matching criteria.
func (m *Model) Count(ctx context.Context, criteria core.Criteria) (int, error) {
	return m.coll.Count(ctx, criteria)
}

// Update runs BeforeValidate on values and updates every matching record.
func (m *Model) Update(ctx context.Context, criteria core.Criteria, values core.Record) ([]core.Record, error) {
	rec, err := m.beforeUpdate(ctx, values)
	if err != nil {
		return nil, err
	}
	return m.coll.Update(ctx, criteria, rec)
}

// UpdateOne runs BeforeValidate on values and updates the single matching record.
func (m *Model) UpdateOne(ctx context.Context, criteria core.Criteria, values core.Record) (core.Record, error) {
	rec, err := m.beforeUpdate(ctx, values)
	if err != nil {
		return nil, err
	}
	return m.coll.UpdateOne(ctx, criteria, rec)
}

// Destroy removes every matching record.
func (m *Model) Destroy(ctx context.Context, criteria core.Criteria) ([]core.Record, error) {
	return m.coll.Destroy(ctx, criteria)
}

// UpdateOrCreate updates the record matching criteria with values, or
// creates values when nothing matches. Nil values default to the criteria.
// Nil criteria fall back to the primary key found in values, or match
// everything when values carry none.
func (m *Model) UpdateOrCreate(ctx context.Context, criteria core.Criteria, values core.Record) (core.Record, error) {
	if values == nil {
		values = core.Record(criteria).Clone()
	}
	if criteria == nil {
		pk := m.coll.PrimaryKey()
		m.logger.Warn("updateOrCreate called without criteria", zap.String("globalId", m.ExportName()))
		criteria = core.Criteria{}
		if id, ok := values[pk]; ok && id != nil && id != "" {
			criteria[pk] = id
		}
	}

	found, err := m.coll.FindOne(ctx, criteria)
	switch {
	case err == nil:
		pk := m.coll.PrimaryKey()
		return m.UpdateOne(ctx, core.Criteria{pk: found[pk]}, values)
	case errors.Is(err, core.ErrRecordNotFound):
		return m.Create(ctx, values)
	default:
		return nil, err
	}
}

func (m *Model) beforeUpdate(ctx context.Context, values core.Record) (core.Record, error) {
	rec := values.Clone()
	if rec == nil {
		rec = core.Record{}
	}
	if hook := m.ext.Definition.BeforeValidate; hook != nil {
		if err := hook(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
