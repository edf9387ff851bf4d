package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/rzpsarthak13/persistence/internal/core"
)

func petSchema() *core.ModelSchema {
	return &core.ModelSchema{
		Identity:   "pet",
		TableName:  "pet",
		PrimaryKey: "id",
		Migrate:    "alter",
		Columns: []core.Column{
			{Name: "id", Type: "number", AutoIncrement: true, Unique: true},
			{Name: "name", Type: "string", Unique: true},
			{Name: "species", Type: "string"},
		},
		Indexes: []core.Index{
			{Name: "pet_name_idx", Columns: []string{"name"}, Unique: true},
			{Name: "pet_species_idx", Columns: []string{"species"}},
		},
	}
}

func TestMongoOptions(t *testing.T) {
	opts, db, err := MongoOptions(core.DatastoreConfig{Host: "mongo", Database: "app", ConnectionTimeout: 3 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "app", db)
	assert.Equal(t, []string{"mongo:27017"}, opts.Hosts)
	require.NotNil(t, opts.ConnectTimeout)
	assert.Equal(t, 3*time.Second, *opts.ConnectTimeout)

	opts, _, err = MongoOptions(core.DatastoreConfig{URL: "mongodb://a:1,b:2", Database: "app", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2"}, opts.Hosts)
	require.NotNil(t, opts.Auth)
	assert.Equal(t, "u", opts.Auth.Username)

	_, _, err = MongoOptions(core.DatastoreConfig{Host: "mongo"})
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, _, err = MongoOptions(core.DatastoreConfig{Database: "app"})
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, _, err = MongoOptions(core.DatastoreConfig{URL: "http://nope", Database: "app"})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestMongoFilter(t *testing.T) {
	schema := petSchema()
	got := mongoFilter(schema, core.Criteria{
		"id":      []any{int64(1), int64(2)},
		"species": "cat",
		"name":    nil,
	})
	assert.Equal(t, bson.M{
		"_id":     bson.M{"$in": bson.A{int64(1), int64(2)}},
		"species": "cat",
		"name":    nil,
	}, got)
	assert.Empty(t, mongoFilter(schema, nil))
}

func TestMongoDocuments(t *testing.T) {
	schema := petSchema()
	doc := toDocument(schema, core.Record{"id": int64(7), "name": "rex"})
	assert.Equal(t, bson.M{"_id": int64(7), "name": "rex"}, doc)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := fromDocument(schema, bson.M{
		"_id":  int32(7),
		"name": "rex",
		"tags": bson.A{"a", bson.M{"b": int32(1)}},
		"meta": bson.D{{Key: "born", Value: primitive.NewDateTimeFromTime(at)}},
	})
	assert.Equal(t, core.Record{
		"id":   int64(7),
		"name": "rex",
		"tags": []any{"a", map[string]any{"b": int64(1)}},
		"meta": map[string]any{"born": at},
	}, rec)
}

func TestMongoIndexModels(t *testing.T) {
	models := indexModels(petSchema())
	require.Len(t, models, 2)
	assert.Equal(t, bson.D{{Key: "name", Value: 1}}, models[0].Keys)
	require.NotNil(t, models[0].Options.Unique)
	assert.True(t, *models[0].Options.Unique)
	assert.Equal(t, bson.D{{Key: "species", Value: 1}}, models[1].Keys)
	assert.Equal(t, "pet_species_idx", *models[1].Options.Name)
}

func TestMongo_ClosedDatastore(t *testing.T) {
	m := NewMongo()
	_, err := m.Find(context.Background(), "default", "pet", nil)
	assert.ErrorIs(t, err, core.ErrClosed)
	assert.NoError(t, m.Teardown(context.Background(), "default"))
}
