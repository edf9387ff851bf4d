package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// Redis is an adapter that stores each table as a hash of JSON encoded
// records keyed by primary key.
type Redis struct {
	mu     sync.RWMutex
	stores map[string]*redisStore
}

type redisStore struct {
	client  *redis.Client
	prefix  string
	schemas map[string]*core.ModelSchema
	closed  bool
}

// NewRedis creates a Redis adapter with no datastores.
func NewRedis() *Redis {
	return &Redis{stores: make(map[string]*redisStore)}
}

// Identity returns "redis".
func (r *Redis) Identity() string { return "redis" }

// RedisOptions builds client options from a datastore configuration.
func RedisOptions(cfg core.DatastoreConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid redis url: %v", core.ErrConfiguration, err)
		}
		return opts, nil
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: at least one redis endpoint is required", core.ErrConfiguration)
	}
	// only single-node Redis, no cluster
	opts := &redis.Options{
		Addr:     cfg.Endpoints[0],
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.ConnectionTimeout > 0 {
		opts.DialTimeout = cfg.ConnectionTimeout
	}
	return opts, nil
}

// RegisterDatastore connects to Redis and applies the migration strategy.
func (r *Redis) RegisterDatastore(ctx context.Context, name string, cfg core.DatastoreConfig, schemas []*core.ModelSchema) error {
	opts, err := RedisOptions(cfg)
	if err != nil {
		return err
	}
	client := redis.NewClient(opts)

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &redisStore{
		client:  client,
		prefix:  cfg.Prefix,
		schemas: make(map[string]*core.ModelSchema, len(schemas)),
	}
	for _, schema := range schemas {
		if schema.Migrate == "drop" {
			if err := client.Del(ctx, store.key(name, schema.TableName), store.seqKey(name, schema.TableName)).Err(); err != nil {
				client.Close()
				return fmt.Errorf("failed to drop %s: %w", schema.TableName, err)
			}
		}
		store.schemas[schema.TableName] = schema
	}

	r.mu.Lock()
	if old, ok := r.stores[name]; ok && !old.closed {
		old.client.Close()
	}
	r.stores[name] = store
	r.mu.Unlock()
	return nil
}

// Create stores a record, generating an auto-increment key when needed.
func (r *Redis) Create(ctx context.Context, datastore, table string, record core.Record) (core.Record, error) {
	store, schema, err := r.lookup(datastore, table)
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
		id, err := store.client.Incr(ctx, store.seqKey(datastore, table)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to allocate key for %s: %w", table, err)
		}
		rec[pk] = id
	}

	existing, err := store.all(ctx, datastore, table)
	if err != nil {
		return nil, err
	}
	if err := checkUnique(schema, existing, rec, ""); err != nil {
		return nil, err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	field := fmt.Sprint(rec[pk])
	ok, err := store.client.HSetNX(ctx, store.key(datastore, table), field, data).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to store record in %s: %w", table, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s must be unique, %s already exists", core.ErrValidation, table, pk, field)
	}
	return decodeJSON(data)
}

// Find returns every matching record.
func (r *Redis) Find(ctx context.Context, datastore, table string, criteria core.Criteria) ([]core.Record, error) {
	store, _, err := r.lookup(datastore, table)
	if err != nil {
		return nil, err
	}
	all, err := store.all(ctx, datastore, table)
	if err != nil {
		return nil, err
	}
	return filter(all, criteria), nil
}

// Update merges values into every matching record.
func (r *Redis) Update(ctx context.Context, datastore, table string, criteria core.Criteria, values core.Record) ([]core.Record, error) {
	store, schema, err := r.lookup(datastore, table)
	if err != nil {
		return nil, err
	}
	all, err := store.all(ctx, datastore, table)
	if err != nil {
		return nil, err
	}

	matched := filter(all, criteria)
	fields := make([]any, 0, 2*len(matched))
	for _, rec := range matched {
		for k, v := range values {
			rec[k] = v
		}
		if err := checkUnique(schema, all, rec, fmt.Sprint(rec[schema.PrimaryKey])); err != nil {
			return nil, err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
		fields = append(fields, fmt.Sprint(rec[schema.PrimaryKey]), data)
	}
	if len(fields) > 0 {
		if err := store.client.HSet(ctx, store.key(datastore, table), fields...).Err(); err != nil {
			return nil, fmt.Errorf("failed to update %s: %w", table, err)
		}
	}
	return matched, nil
}

// Destroy removes every matching record.
func (r *Redis) Destroy(ctx context.Context, datastore, table string, criteria core.Criteria) ([]core.Record, error) {
	store, schema, err := r.lookup(datastore, table)
	if err != nil {
		return nil, err
	}
	all, err := store.all(ctx, datastore, table)
	if err != nil {
		return nil, err
	}

	matched := filter(all, criteria)
	if len(matched) == 0 {
		return nil, nil
	}
	fields := make([]string, len(matched))
	for i, rec := range matched {
		fields[i] = fmt.Sprint(rec[schema.PrimaryKey])
	}
	if err := store.client.HDel(ctx, store.key(datastore, table), fields...).Err(); err != nil {
		return nil, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return matched, nil
}

// Teardown closes the client of the datastore.
func (r *Redis) Teardown(_ context.Context, datastore string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, ok := r.stores[datastore]
	if !ok || store.closed {
		return nil
	}
	store.closed = true
	delete(r.stores, datastore)
	return store.client.Close()
}

func (r *Redis) lookup(datastore, table string) (*redisStore, *core.ModelSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	store, ok := r.stores[datastore]
	if !ok || store.closed {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrClosed, datastore)
	}
	schema, ok := store.schemas[table]
	if !ok {
		return nil, nil, fmt.Errorf("datastore %s has no table %s", datastore, table)
	}
	return store, schema, nil
}

func (s *redisStore) key(datastore, table string) string {
	return fmt.Sprintf("%s%s:%s", s.prefix, datastore, table)
}

func (s *redisStore) seqKey(datastore, table string) string {
	return s.key(datastore, table) + ":seq"
}

// all loads the table ordered by primary key.
func (s *redisStore) all(ctx context.Context, datastore, table string) ([]core.Record, error) {
	raw, err := s.client.HGetAll(ctx, s.key(datastore, table)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	fields := make([]string, 0, len(raw))
	for f := range raw {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make([]core.Record, 0, len(raw))
	for _, f := range fields {
		rec, err := decodeJSON([]byte(raw[f]))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", table, f, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeJSON(data []byte) (core.Record, error) {
	var rec core.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func filter(rows []core.Record, criteria core.Criteria) []core.Record {
	var out []core.Record
	for _, row := range rows {
		if criteria.Matches(row) {
			out = append(out, row)
		}
	}
	return out
}

// checkUnique rejects rec when a unique column collides with a row other than
// the one whose primary key is self.
func checkUnique(schema *core.ModelSchema, rows []core.Record, rec core.Record, self string) error {
	for _, col := range schema.Columns {
		if !col.Unique || col.Name == schema.PrimaryKey {
			continue
		}
		value, ok := rec[col.Name]
		if !ok || value == nil {
			continue
		}
		for _, row := range rows {
			if fmt.Sprint(row[schema.PrimaryKey]) == self {
				continue
			}
			if core.Equal(row[col.Name], value) {
				return fmt.Errorf("%w: %s.%s must be unique, %v already exists",
					core.ErrValidation, schema.TableName, col.Name, value)
			}
		}
	}
	return nil
}

// RedisFactory creates Redis adapters.
type RedisFactory struct{}

// Type returns "redis".
func (f *RedisFactory) Type() string { return "redis" }

// Create returns a new Redis adapter.
func (f *RedisFactory) Create() (core.Adapter, error) { return NewRedis(), nil }

// Validate validates the Redis-specific configuration.
func (f *RedisFactory) Validate(cfg core.DatastoreConfig) error {
	_, err := RedisOptions(cfg)
	return err
}

func init() {
	RegisterFactory(&RedisFactory{})
}
