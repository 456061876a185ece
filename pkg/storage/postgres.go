package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/piwi3910/strata/pkg/storage/codec"
)

// advisoryLockID serializes bootstrap runs of concurrent processes sharing
// one database.
const advisoryLockID = 874012

// PostgresConfig holds networked-store configuration.
type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// PostgresBackend is the networked relational adapter, built on a pgx
// connection pool. Row-level concurrency control is the database's own.
type PostgresBackend struct {
	cfg  PostgresConfig
	pool *pgxpool.Pool
}

// NewPostgresBackend creates a new Postgres backend. The pool is opened
// lazily in Bootstrap.
func NewPostgresBackend(cfg PostgresConfig) (*PostgresBackend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres: connection URL is required")
	}
	return &PostgresBackend{cfg: cfg}, nil
}

// Name identifies the substrate.
func (b *PostgresBackend) Name() string { return "postgres" }

// Bootstrap connects the pool and creates the physical layout, guarded by an
// advisory lock against concurrent processes. Idempotent.
func (b *PostgresBackend) Bootstrap(ctx context.Context) error {
	if b.pool == nil {
		poolCfg, err := pgxpool.ParseConfig(b.cfg.URL)
		if err != nil {
			return fmt.Errorf("parse pool config: %w", err)
		}
		if b.cfg.MaxConns > 0 {
			poolCfg.MaxConns = b.cfg.MaxConns
		}
		if b.cfg.MinConns > 0 {
			poolCfg.MinConns = b.cfg.MinConns
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping: %w", err)
		}
		b.pool = pool
	}

	// Advisory locks are session-scoped, so lock and unlock must run on the
	// same pinned connection.
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockID); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, advisoryLockID)
	}()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS kv_entries (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			table_name TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			PRIMARY KEY (table_name, id)
		)`,
		`CREATE TABLE IF NOT EXISTS storage_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// SchemaVersion reads the persisted schema version, 0 when absent.
func (b *PostgresBackend) SchemaVersion(ctx context.Context) (int, error) {
	var raw string
	err := b.pool.QueryRow(ctx,
		`SELECT value FROM storage_meta WHERE key = $1`, schemaVersionKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	var version int
	if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return version, nil
}

// SetSchemaVersion persists the schema version record.
func (b *PostgresBackend) SetSchemaVersion(ctx context.Context, version int) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO storage_meta (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		schemaVersionKey, fmt.Sprintf("%d", version))
	if err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

// Get returns the value for key.
func (b *PostgresBackend) Get(ctx context.Context, key string) (codec.StoredValue, bool, error) {
	var data []byte
	err := b.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return codec.Null, false, nil
	}
	if err != nil {
		return codec.Null, false, fmt.Errorf("get %q: %w", key, err)
	}
	sv, err := codec.Unmarshal(data)
	if err != nil {
		return codec.Null, false, err
	}
	return sv, true, nil
}

// Set stores a value under key.
func (b *PostgresBackend) Set(ctx context.Context, key string, value codec.StoredValue) error {
	data, err := codec.Marshal(value)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx,
		`INSERT INTO kv_entries (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, data)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes a key.
func (b *PostgresBackend) Remove(ctx context.Context, key string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Keys lists all keys in lexical order.
func (b *PostgresBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, `SELECT key FROM kv_entries ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Clear removes every key-value entry. The records table is untouched.
func (b *PostgresBackend) Clear(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM kv_entries`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Query returns the matching records of a table, ordered by id.
func (b *PostgresBackend) Query(ctx context.Context, table string, conditions map[string]codec.StoredValue) ([]map[string]codec.StoredValue, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT data FROM records WHERE table_name = $1 ORDER BY id`, table)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", table, err)
	}
	defer rows.Close()

	var out []map[string]codec.StoredValue
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		fields, err := codec.UnmarshalFields(data)
		if err != nil {
			return nil, err
		}
		if matchConditions(fields, conditions) {
			out = append(out, fields)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	if out == nil {
		out = []map[string]codec.StoredValue{}
	}
	return out, nil
}

// Insert stores a new record, rejecting id collisions.
func (b *PostgresBackend) Insert(ctx context.Context, table, id string, fields map[string]codec.StoredValue) error {
	data, err := codec.MarshalFields(fields)
	if err != nil {
		return err
	}
	ct, err := b.pool.Exec(ctx,
		`INSERT INTO records (table_name, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (table_name, id) DO NOTHING`, table, id, data)
	if err != nil {
		return fmt.Errorf("insert into %q: %w", table, err)
	}
	if ct.RowsAffected() == 0 {
		return &ConflictError{Table: table, ID: id}
	}
	return nil
}

// Update merges fields into an existing record inside one transaction,
// holding a row lock across the read-merge-write.
func (b *PostgresBackend) Update(ctx context.Context, table, id string, fields map[string]codec.StoredValue) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("update %q/%q: begin: %w", table, id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var data []byte
	err = tx.QueryRow(ctx,
		`SELECT data FROM records WHERE table_name = $1 AND id = $2 FOR UPDATE`,
		table, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Table: table, ID: id}
	}
	if err != nil {
		return fmt.Errorf("update %q/%q: read: %w", table, id, err)
	}

	current, err := codec.UnmarshalFields(data)
	if err != nil {
		return err
	}
	for k, v := range fields {
		current[k] = v
	}
	merged, err := codec.MarshalFields(current)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE records SET data = $1 WHERE table_name = $2 AND id = $3`,
		merged, table, id); err != nil {
		return fmt.Errorf("update %q/%q: write: %w", table, id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("update %q/%q: commit: %w", table, id, err)
	}
	return nil
}

// Delete removes a record; absent ids are a no-op.
func (b *PostgresBackend) Delete(ctx context.Context, table, id string) error {
	_, err := b.pool.Exec(ctx,
		`DELETE FROM records WHERE table_name = $1 AND id = $2`, table, id)
	if err != nil {
		return fmt.Errorf("delete %q/%q: %w", table, id, err)
	}
	return nil
}

// Close closes the connection pool.
func (b *PostgresBackend) Close() error {
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	return nil
}
