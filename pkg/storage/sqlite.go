package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/piwi3910/strata/pkg/storage/codec"

	// SQLite driver
	_ "modernc.org/sqlite"
)

const schemaVersionKey = "schema_version"

// SQLiteConfig holds embedded-store configuration.
type SQLiteConfig struct {
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SQLiteBackend is the embedded single-file adapter. The connection is
// opened lazily in Bootstrap so constructing a backend acquires nothing.
type SQLiteBackend struct {
	cfg SQLiteConfig
	db  *sql.DB
}

// NewSQLiteBackend creates a new SQLite backend for the given file.
func NewSQLiteBackend(cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteBackend{cfg: cfg}, nil
}

// Name identifies the substrate.
func (b *SQLiteBackend) Name() string { return "sqlite" }

// Bootstrap opens the database in WAL mode and creates the physical layout.
// Idempotent: a second call on an open backend does nothing.
func (b *SQLiteBackend) Bootstrap(ctx context.Context) error {
	if b.db != nil {
		return nil
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", b.cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(b.cfg.MaxOpenConns)
	db.SetMaxIdleConns(b.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(b.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS kv_entries (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			table_name TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (table_name, id)
		)`,
		`CREATE TABLE IF NOT EXISTS storage_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("create schema: %w", err)
		}
	}

	b.db = db
	return nil
}

// SchemaVersion reads the persisted schema version, 0 when absent.
func (b *SQLiteBackend) SchemaVersion(ctx context.Context) (int, error) {
	var raw string
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM storage_meta WHERE key = ?`, schemaVersionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return version, nil
}

// SetSchemaVersion persists the schema version record.
func (b *SQLiteBackend) SetSchemaVersion(ctx context.Context, version int) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO storage_meta (key, value) VALUES (?, ?)`,
		schemaVersionKey, strconv.Itoa(version))
	if err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

// Get returns the value for key.
func (b *SQLiteBackend) Get(ctx context.Context, key string) (codec.StoredValue, bool, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
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
func (b *SQLiteBackend) Set(ctx context.Context, key string, value codec.StoredValue) error {
	data, err := codec.Marshal(value)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv_entries (key, value) VALUES (?, ?)`, key, data)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes a key.
func (b *SQLiteBackend) Remove(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Keys lists all keys in lexical order.
func (b *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM kv_entries ORDER BY key`)
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
func (b *SQLiteBackend) Clear(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv_entries`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Query returns the matching records of a table, ordered by id. Condition
// matching happens on the decoded envelopes so it is identical across
// backends.
func (b *SQLiteBackend) Query(ctx context.Context, table string, conditions map[string]codec.StoredValue) ([]map[string]codec.StoredValue, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT data FROM records WHERE table_name = ? ORDER BY id`, table)
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
func (b *SQLiteBackend) Insert(ctx context.Context, table, id string, fields map[string]codec.StoredValue) error {
	data, err := codec.MarshalFields(fields)
	if err != nil {
		return err
	}
	res, err := b.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO records (table_name, id, data) VALUES (?, ?, ?)`,
		table, id, data)
	if err != nil {
		return fmt.Errorf("insert into %q: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert into %q: %w", table, err)
	}
	if affected == 0 {
		return &ConflictError{Table: table, ID: id}
	}
	return nil
}

// Update merges fields into an existing record inside one transaction.
func (b *SQLiteBackend) Update(ctx context.Context, table, id string, fields map[string]codec.StoredValue) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update %q/%q: begin: %w", table, id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var data []byte
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM records WHERE table_name = ? AND id = ?`, table, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
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

	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET data = ? WHERE table_name = ? AND id = ?`, merged, table, id); err != nil {
		return fmt.Errorf("update %q/%q: write: %w", table, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update %q/%q: commit: %w", table, id, err)
	}
	return nil
}

// Delete removes a record; absent ids are a no-op.
func (b *SQLiteBackend) Delete(ctx context.Context, table, id string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM records WHERE table_name = ? AND id = ?`, table, id)
	if err != nil {
		return fmt.Errorf("delete %q/%q: %w", table, id, err)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		err := b.db.Close()
		b.db = nil
		return err
	}
	return nil
}
