package adapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/rzpsarthak13/persistence/internal/core"
)

// Supported database/sql drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQL is an adapter over database/sql. One instance serves any number of
// datastores, each with its own connection pool.
type SQL struct {
	mu     sync.RWMutex
	stores map[string]*sqlStore
}

type sqlStore struct {
	db      *sql.DB
	dialect dialect
	schemas map[string]*core.ModelSchema
	closed  bool
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// NewSQL creates an SQL adapter with no datastores.
func NewSQL() *SQL {
	return &SQL{stores: make(map[string]*sqlStore)}
}

// Identity returns "sql".
func (s *SQL) Identity() string { return "sql" }

// DSN builds the data source name for a datastore configuration.
func DSN(cfg core.DatastoreConfig) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}
	switch cfg.Driver {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
		mc.DBName = cfg.Database
		mc.ParseTime = true
		if cfg.ConnectionTimeout > 0 {
			mc.Timeout = cfg.ConnectionTimeout
		}
		return mc.FormatDSN(), nil
	case DriverPostgres:
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme: "postgres",
			Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
			Path:   "/" + cfg.Database,
		}
		if cfg.Username != "" {
			u.User = url.UserPassword(cfg.Username, cfg.Password)
		}
		if cfg.ConnectionTimeout > 0 {
			q := url.Values{}
			q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectionTimeout.Seconds())))
			u.RawQuery = q.Encode()
		}
		return u.String(), nil
	case DriverSQLite:
		if cfg.Database == "" {
			return ":memory:", nil
		}
		return cfg.Database, nil
	default:
		return "", fmt.Errorf("%w: unsupported sql driver %q", core.ErrConfiguration, cfg.Driver)
	}
}

// RegisterDatastore opens the connection pool and migrates every model.
func (s *SQL) RegisterDatastore(ctx context.Context, name string, cfg core.DatastoreConfig, schemas []*core.ModelSchema) error {
	dsn, err := DSN(cfg)
	if err != nil {
		return err
	}

	d := dialectFor(cfg.Driver)
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == DriverSQLite && dsn == ":memory:" {
		// every connection to :memory: is a different database
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	store := &sqlStore{
		db:      db,
		dialect: d,
		schemas: make(map[string]*core.ModelSchema, len(schemas)),
	}
	for _, schema := range schemas {
		if err := store.migrate(ctx, schema); err != nil {
			db.Close()
			return fmt.Errorf("migrate %s: %w", schema.TableName, err)
		}
		store.schemas[schema.TableName] = schema
	}

	s.mu.Lock()
	if old, ok := s.stores[name]; ok && !old.closed {
		old.db.Close()
	}
	s.stores[name] = store
	s.mu.Unlock()
	return nil
}

// Create inserts a record and reads it back.
func (s *SQL) Create(ctx context.Context, datastore, table string, record core.Record) (core.Record, error) {
	store, schema, err := s.lookup(datastore, table)
	if err != nil {
		return nil, err
	}

	cols, args, err := store.encode(schema, record)
	if err != nil {
		return nil, err
	}
	d := store.dialect
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.quote(c)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.quote(table), strings.Join(quoted, ", "), placeholders(len(cols)))
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", d.quote(table))
	}
	query = d.rebind(query)

	pk := record[schema.PrimaryKey]
	switch {
	case pk != nil:
		if _, err := store.db.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	case d.driver == DriverPostgres:
		// pgx has no LastInsertId
		query += " RETURNING " + d.quote(schema.PrimaryKey)
		if err := store.db.QueryRowContext(ctx, query, args...).Scan(&pk); err != nil {
			return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	default:
		res, err := store.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read generated key of %s: %w", table, err)
		}
		pk = id
	}

	rows, err := store.selectWhere(ctx, store.db, schema, core.Criteria{schema.PrimaryKey: pk})
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: inserted row of %s not found", core.ErrRecordNotFound, table)
	}
	return rows[0], nil
}

// Find selects every matching record.
func (s *SQL) Find(ctx context.Context, datastore, table string, criteria core.Criteria) ([]core.Record, error) {
	store, schema, err := s.lookup(datastore, table)
	if err != nil {
		return nil, err
	}
	return store.selectWhere(ctx, store.db, schema, criteria)
}

// Update applies values to every matching record inside one transaction.
func (s *SQL) Update(ctx context.Context, datastore, table string, criteria core.Criteria, values core.Record) ([]core.Record, error) {
	store, schema, err := s.lookup(datastore, table)
	if err != nil {
		return nil, err
	}

	var out []core.Record
	err = store.inTx(ctx, func(tx *sql.Tx) error {
		matched, err := store.selectWhere(ctx, tx, schema, criteria)
		if err != nil || len(matched) == 0 {
			return err
		}
		cols, args, err := store.encode(schema, values)
		if err != nil {
			return err
		}
		if len(cols) > 0 {
			d := store.dialect
			sets := make([]string, len(cols))
			for i, c := range cols {
				sets[i] = d.quote(c) + " = ?"
			}
			where, whereArgs, err := store.where(schema, criteria)
			if err != nil {
				return err
			}
			query := d.rebind(fmt.Sprintf("UPDATE %s SET %s%s", d.quote(table), strings.Join(sets, ", "), where))
			if _, err := tx.ExecContext(ctx, query, append(args, whereArgs...)...); err != nil {
				return fmt.Errorf("failed to update %s: %w", table, err)
			}
		}
		keys := make([]any, len(matched))
		for i, row := range matched {
			keys[i] = row[schema.PrimaryKey]
		}
		out, err = store.selectWhere(ctx, tx, schema, core.Criteria{schema.PrimaryKey: keys})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Destroy deletes every matching record inside one transaction.
func (s *SQL) Destroy(ctx context.Context, datastore, table string, criteria core.Criteria) ([]core.Record, error) {
	store, schema, err := s.lookup(datastore, table)
	if err != nil {
		return nil, err
	}

	var out []core.Record
	err = store.inTx(ctx, func(tx *sql.Tx) error {
		matched, err := store.selectWhere(ctx, tx, schema, criteria)
		if err != nil || len(matched) == 0 {
			return err
		}
		where, args, err := store.where(schema, criteria)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, store.dialect.rebind("DELETE FROM "+store.dialect.quote(table)+where), args...); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
		out = matched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Teardown closes the connection pool of the datastore.
func (s *SQL) Teardown(_ context.Context, datastore string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, ok := s.stores[datastore]
	if !ok || store.closed {
		return nil
	}
	store.closed = true
	delete(s.stores, datastore)
	return store.db.Close()
}

func (s *SQL) lookup(datastore, table string) (*sqlStore, *core.ModelSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, ok := s.stores[datastore]
	if !ok || store.closed {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrClosed, datastore)
	}
	schema, ok := store.schemas[table]
	if !ok {
		return nil, nil, fmt.Errorf("datastore %s has no table %s", datastore, table)
	}
	return store, schema, nil
}

func (st *sqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (st *sqlStore) migrate(ctx context.Context, schema *core.ModelSchema) error {
	d := st.dialect
	switch schema.Migrate {
	case "safe":
		return nil
	case "drop":
		if _, err := st.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+d.quote(schema.TableName)); err != nil {
			return err
		}
	}
	for _, stmt := range d.createTable(schema) {
		if _, err := st.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// encode returns columns in a stable order with their bind arguments.
func (st *sqlStore) encode(schema *core.ModelSchema, record core.Record) ([]string, []any, error) {
	cols := make([]string, 0, len(record))
	for name, v := range record {
		if name == schema.PrimaryKey && v == nil {
			// generated by the database
			continue
		}
		if schema.Column(name) == nil {
			return nil, nil, fmt.Errorf("%w: %s has no column %s", core.ErrValidation, schema.TableName, name)
		}
		cols = append(cols, name)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, name := range cols {
		v, err := st.dialect.encodeValue(schema.Column(name), record[name])
		if err != nil {
			return nil, nil, err
		}
		args[i] = v
	}
	return cols, args, nil
}

func (st *sqlStore) where(schema *core.ModelSchema, criteria core.Criteria) (string, []any, error) {
	if len(criteria) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	var args []any
	for _, key := range keys {
		col := schema.Column(key)
		if col == nil {
			return "", nil, fmt.Errorf("%w: %s has no column %s", core.ErrValidation, schema.TableName, key)
		}
		quoted := st.dialect.quote(key)
		switch want := criteria[key].(type) {
		case nil:
			clauses = append(clauses, quoted+" IS NULL")
		case []any:
			if len(want) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", quoted, placeholders(len(want))))
			for _, w := range want {
				v, err := st.dialect.encodeValue(col, w)
				if err != nil {
					return "", nil, err
				}
				args = append(args, v)
			}
		default:
			v, err := st.dialect.encodeValue(col, want)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, quoted+" = ?")
			args = append(args, v)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (st *sqlStore) selectWhere(ctx context.Context, q queryer, schema *core.ModelSchema, criteria core.Criteria) ([]core.Record, error) {
	d := st.dialect
	names := make([]string, len(schema.Columns))
	quoted := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		names[i] = col.Name
		quoted[i] = d.quote(col.Name)
	}
	where, args, err := st.where(schema, criteria)
	if err != nil {
		return nil, err
	}
	query := d.rebind(fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(quoted, ", "), d.quote(schema.TableName), where))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", schema.TableName, err)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", schema.TableName, err)
		}
		rec := make(core.Record, len(names))
		for i, name := range names {
			v, err := decodeValue(&schema.Columns[i], values[i])
			if err != nil {
				return nil, err
			}
			rec[name] = v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (d dialect) encodeValue(col *core.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case "json", "ref":
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not serializable: %v", core.ErrValidation, col.Name, err)
		}
		return string(b), nil
	case "boolean":
		if b, ok := v.(bool); ok && d.driver != DriverPostgres {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
	}
	return v, nil
}

func decodeValue(col *core.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch col.Type {
	case "json", "ref":
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", col.Name, err)
		}
		return out, nil
	case "boolean":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return b == "1" || strings.EqualFold(b, "true"), nil
		}
		n, _ := core.ToFloat(v)
		return n != 0, nil
	case "number":
		switch n := v.(type) {
		case int64, float64:
			return n, nil
		case string:
			var f float64
			if _, err := fmt.Sscan(n, &f); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", col.Name, err)
			}
			return f, nil
		}
		if f, ok := core.ToFloat(v); ok {
			return f, nil
		}
	case "string":
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	}
	return v, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// SQLFactory creates SQL adapters.
type SQLFactory struct{}

// Type returns "sql".
func (f *SQLFactory) Type() string { return "sql" }

// Create returns a new SQL adapter.
func (f *SQLFactory) Create() (core.Adapter, error) { return NewSQL(), nil }

// Validate validates the SQL-specific configuration.
func (f *SQLFactory) Validate(cfg core.DatastoreConfig) error {
	switch cfg.Driver {
	case DriverMySQL, DriverPostgres:
		if cfg.URL == "" && (cfg.Host == "" || cfg.Database == "") {
			return fmt.Errorf("%s requires url or host and database", cfg.Driver)
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("driver must be %q, %q or %q, got %q", DriverMySQL, DriverPostgres, DriverSQLite, cfg.Driver)
	}
	return nil
}

func init() {
	RegisterFactory(&SQLFactory{})
}
