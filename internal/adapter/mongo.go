package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rzpsarthak13/persistence/internal/core"
)

const (
	mongoIDField        = "_id"
	mongoCounters       = "_counters"
	mongoDefaultPort    = 27017
	mongoDefaultTimeout = 10 * time.Second
)

// Mongo is an adapter that stores each table as a collection. The primary key
// of a record is stored as the document _id.
type Mongo struct {
	mu     sync.RWMutex
	stores map[string]*mongoStore
}

type mongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	schemas map[string]*core.ModelSchema
	closed  bool
}

// NewMongo creates a Mongo adapter with no datastores.
func NewMongo() *Mongo {
	return &Mongo{stores: make(map[string]*mongoStore)}
}

// Identity returns "mongo".
func (m *Mongo) Identity() string { return "mongo" }

// MongoOptions builds client options and resolves the database name from a
// datastore configuration.
func MongoOptions(cfg core.DatastoreConfig) (*options.ClientOptions, string, error) {
	if cfg.Database == "" {
		return nil, "", fmt.Errorf("%w: mongo requires a database", core.ErrConfiguration)
	}
	uri := cfg.URL
	if uri == "" {
		if cfg.Host == "" {
			return nil, "", fmt.Errorf("%w: mongo requires url or host", core.ErrConfiguration)
		}
		port := cfg.Port
		if port == 0 {
			port = mongoDefaultPort
		}
		uri = fmt.Sprintf("mongodb://%s:%d", cfg.Host, port)
	}

	opts := options.Client().ApplyURI(uri)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
	}
	timeout := cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = mongoDefaultTimeout
	}
	opts.SetConnectTimeout(timeout).SetServerSelectionTimeout(timeout)
	if cfg.MaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxOpenConns))
	}
	if err := opts.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: invalid mongo options: %v", core.ErrConfiguration, err)
	}
	return opts, cfg.Database, nil
}

// RegisterDatastore connects to MongoDB and applies the migration strategy.
func (m *Mongo) RegisterDatastore(ctx context.Context, name string, cfg core.DatastoreConfig, schemas []*core.ModelSchema) error {
	opts, dbName, err := MongoOptions(cfg)
	if err != nil {
		return err
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := &mongoStore{
		client:  client,
		db:      client.Database(dbName),
		schemas: make(map[string]*core.ModelSchema, len(schemas)),
	}
	for _, schema := range schemas {
		if err := store.migrate(ctx, schema); err != nil {
			_ = client.Disconnect(ctx)
			return fmt.Errorf("migrate %s: %w", schema.TableName, err)
		}
		store.schemas[schema.TableName] = schema
	}

	m.mu.Lock()
	if old, ok := m.stores[name]; ok && !old.closed {
		_ = old.client.Disconnect(ctx)
	}
	m.stores[name] = store
	m.mu.Unlock()
	return nil
}

// Create inserts a document, allocating an auto-increment key when needed.
func (m *Mongo) Create(ctx context.Context, datastore, table string, record core.Record) (core.Record, error) {
	store, schema, err := m.lookup(datastore, table)
	if err != nil {
		return nil, err
	}

	rec := record.Clone()
	pk := schema.PrimaryKey
	if rec[pk] == nil {
		col := schema.Column(pk)
		if col == nil || !col.AutoIncrement {
			return nil, fmt.Errorf("%w: %s requires a primary key", core.ErrValidation, table)
		}
		id, err := store.nextID(ctx, table)
		if err != nil {
			return nil, err
		}
		rec[pk] = id
	}

	doc := toDocument(schema, rec)
	if _, err := store.db.Collection(table).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %s has a duplicate key: %v", core.ErrValidation, table, err)
		}
		return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	rows, err := store.find(ctx, schema, bson.M{mongoIDField: rec[pk]})
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: inserted document of %s not found", core.ErrRecordNotFound, table)
	}
	return rows[0], nil
}

// Find returns every matching document ordered by primary key.
func (m *Mongo) Find(ctx context.Context, datastore, table string, criteria core.Criteria) ([]core.Record, error) {
	store, schema, err := m.lookup(datastore, table)
	if err != nil {
		return nil, err
	}
	return store.find(ctx, schema, mongoFilter(schema, criteria))
}

// Update sets values on every matching document.
func (m *Mongo) Update(ctx context.Context, datastore, table string, criteria core.Criteria, values core.Record) ([]core.Record, error) {
	store, schema, err := m.lookup(datastore, table)
	if err != nil {
		return nil, err
	}
	if _, ok := values[schema.PrimaryKey]; ok {
		return nil, fmt.Errorf("%w: %s.%s cannot be updated", core.ErrValidation, table, schema.PrimaryKey)
	}

	keys, err := store.keys(ctx, schema, criteria)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	byKey := bson.M{mongoIDField: bson.M{"$in": keys}}
	if len(values) > 0 {
		set := bson.M{}
		for k, v := range values {
			set[k] = v
		}
		if _, err := store.db.Collection(table).UpdateMany(ctx, byKey, bson.M{"$set": set}); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, fmt.Errorf("%w: %s has a duplicate key: %v", core.ErrValidation, table, err)
			}
			return nil, fmt.Errorf("failed to update %s: %w", table, err)
		}
	}
	return store.find(ctx, schema, byKey)
}

// Destroy deletes every matching document.
func (m *Mongo) Destroy(ctx context.Context, datastore, table string, criteria core.Criteria) ([]core.Record, error) {
	store, schema, err := m.lookup(datastore, table)
	if err != nil {
		return nil, err
	}
	matched, err := store.find(ctx, schema, mongoFilter(schema, criteria))
	if err != nil || len(matched) == 0 {
		return nil, err
	}
	keys := make(bson.A, len(matched))
	for i, rec := range matched {
		keys[i] = rec[schema.PrimaryKey]
	}
	if _, err := store.db.Collection(table).DeleteMany(ctx, bson.M{mongoIDField: bson.M{"$in": keys}}); err != nil {
		return nil, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return matched, nil
}

// Teardown disconnects the client of the datastore.
func (m *Mongo) Teardown(ctx context.Context, datastore string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, ok := m.stores[datastore]
	if !ok || store.closed {
		return nil
	}
	store.closed = true
	delete(m.stores, datastore)
	return store.client.Disconnect(ctx)
}

func (m *Mongo) lookup(datastore, table string) (*mongoStore, *core.ModelSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	store, ok := m.stores[datastore]
	if !ok || store.closed {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrClosed, datastore)
	}
	schema, ok := store.schemas[table]
	if !ok {
		return nil, nil, fmt.Errorf("datastore %s has no table %s", datastore, table)
	}
	return store, schema, nil
}

func (s *mongoStore) migrate(ctx context.Context, schema *core.ModelSchema) error {
	coll := s.db.Collection(schema.TableName)
	switch schema.Migrate {
	case "safe":
		return nil
	case "drop":
		if err := coll.Drop(ctx); err != nil {
			return err
		}
		if _, err := s.db.Collection(mongoCounters).DeleteOne(ctx, bson.M{mongoIDField: schema.TableName}); err != nil {
			return err
		}
	}
	if models := indexModels(schema); len(models) > 0 {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

// nextID increments the counter document of table.
func (s *mongoStore) nextID(ctx context.Context, table string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(mongoCounters).
		FindOneAndUpdate(ctx, bson.M{mongoIDField: table}, bson.M{"$inc": bson.M{"seq": 1}}, opts).
		Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate key for %s: %w", table, err)
	}
	return counter.Seq, nil
}

func (s *mongoStore) keys(ctx context.Context, schema *core.ModelSchema, criteria core.Criteria) (bson.A, error) {
	matched, err := s.find(ctx, schema, mongoFilter(schema, criteria))
	if err != nil {
		return nil, err
	}
	keys := make(bson.A, len(matched))
	for i, rec := range matched {
		keys[i] = rec[schema.PrimaryKey]
	}
	return keys, nil
}

func (s *mongoStore) find(ctx context.Context, schema *core.ModelSchema, filter bson.M) ([]core.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: mongoIDField, Value: 1}})
	cursor, err := s.db.Collection(schema.TableName).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", schema.TableName, err)
	}
	defer cursor.Close(ctx)

	var out []core.Record
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", schema.TableName, err)
		}
		out = append(out, fromDocument(schema, doc))
	}
	return out, cursor.Err()
}

// indexModels returns the unique column and secondary indexes of schema.
func indexModels(schema *core.ModelSchema) []mongo.IndexModel {
	var models []mongo.IndexModel
	for _, col := range schema.Columns {
		if !col.Unique || col.Name == schema.PrimaryKey {
			continue
		}
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: col.Name, Value: 1}},
			Options: options.Index().SetUnique(true).SetName(schema.TableName + "_" + col.Name + "_unique"),
		})
	}
	for _, idx := range schema.Indexes {
		if idx.Unique {
			continue
		}
		keys := bson.D{}
		for _, c := range idx.Columns {
			keys = append(keys, bson.E{Key: c, Value: 1})
		}
		models = append(models, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetName(idx.Name),
		})
	}
	return models
}

// mongoFilter translates criteria into a query filter. A list matches any of
// its values and nil matches a missing or null field.
func mongoFilter(schema *core.ModelSchema, criteria core.Criteria) bson.M {
	out := bson.M{}
	for k, want := range criteria {
		field := k
		if k == schema.PrimaryKey {
			field = mongoIDField
		}
		switch v := want.(type) {
		case []any:
			out[field] = bson.M{"$in": bson.A(v)}
		default:
			out[field] = v
		}
	}
	return out
}

func toDocument(schema *core.ModelSchema, rec core.Record) bson.M {
	doc := make(bson.M, len(rec))
	for k, v := range rec {
		if k == schema.PrimaryKey {
			k = mongoIDField
		}
		doc[k] = v
	}
	return doc
}

func fromDocument(schema *core.ModelSchema, doc bson.M) core.Record {
	rec := make(core.Record, len(doc))
	for k, v := range doc {
		if k == mongoIDField {
			k = schema.PrimaryKey
		}
		rec[k] = fromBSON(v)
	}
	return rec
}

// fromBSON converts decoded BSON values into plain Go values.
func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromBSON(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSON(e)
		}
		return out
	case int32:
		return int64(t)
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	default:
		return v
	}
}

// MongoFactory creates Mongo adapters.
type MongoFactory struct{}

// Type returns "mongo".
func (f *MongoFactory) Type() string { return "mongo" }

// Create returns a new Mongo adapter.
func (f *MongoFactory) Create() (core.Adapter, error) { return NewMongo(), nil }

// Validate validates the Mongo-specific configuration.
func (f *MongoFactory) Validate(cfg core.DatastoreConfig) error {
	_, _, err := MongoOptions(cfg)
	return err
}

func init() {
	RegisterFactory(&MongoFactory{})
}
