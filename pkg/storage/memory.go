package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/piwi3910/strata/pkg/storage/codec"
)

// MemoryConfig holds memory backend configuration.
type MemoryConfig struct {
	// MaxBytes is a soft quota on the total wire size of stored data,
	// mirroring the storage quotas of browser-local document stores.
	// Zero means unlimited.
	MaxBytes int64 `yaml:"max_bytes"`
}

// MemoryBackend is the ephemeral document-store adapter. Data lives for the
// lifetime of the process. Values are kept in their wire form so the
// observable behavior matches the serializing backends exactly.
type MemoryBackend struct {
	cfg MemoryConfig

	mu      sync.RWMutex
	kv      map[string][]byte
	tables  map[string]map[string][]byte
	version int
	used    int64
	closed  bool
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend(cfg MemoryConfig) *MemoryBackend {
	return &MemoryBackend{cfg: cfg}
}

// Name identifies the substrate.
func (b *MemoryBackend) Name() string { return "memory" }

// Bootstrap allocates the in-memory layout. Idempotent.
func (b *MemoryBackend) Bootstrap(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("memory backend is closed")
	}
	if b.kv == nil {
		b.kv = make(map[string][]byte)
	}
	if b.tables == nil {
		b.tables = make(map[string]map[string][]byte)
	}
	return nil
}

// SchemaVersion returns the stored schema version.
func (b *MemoryBackend) SchemaVersion(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version, nil
}

// SetSchemaVersion updates the stored schema version.
func (b *MemoryBackend) SetSchemaVersion(_ context.Context, version int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version = version
	return nil
}

// checkQuota enforces the soft byte quota. delta may be negative.
func (b *MemoryBackend) checkQuota(delta int64) error {
	if b.cfg.MaxBytes > 0 && b.used+delta > b.cfg.MaxBytes {
		return fmt.Errorf("storage quota exceeded: %d of %d bytes used", b.used, b.cfg.MaxBytes)
	}
	return nil
}

// Get returns the value for key.
func (b *MemoryBackend) Get(_ context.Context, key string) (codec.StoredValue, bool, error) {
	b.mu.RLock()
	data, ok := b.kv[key]
	b.mu.RUnlock()
	if !ok {
		return codec.Null, false, nil
	}
	sv, err := codec.Unmarshal(data)
	if err != nil {
		return codec.Null, false, err
	}
	return sv, true, nil
}

// Set stores a value under key.
func (b *MemoryBackend) Set(_ context.Context, key string, value codec.StoredValue) error {
	data, err := codec.Marshal(value)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delta := int64(len(data)) - int64(len(b.kv[key]))
	if err := b.checkQuota(delta); err != nil {
		return err
	}
	b.kv[key] = data
	b.used += delta
	return nil
}

// Remove deletes a key.
func (b *MemoryBackend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if data, ok := b.kv[key]; ok {
		b.used -= int64(len(data))
		delete(b.kv, key)
	}
	return nil
}

// Keys lists all keys in lexical order.
func (b *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.kv))
	for k := range b.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every key-value entry, leaving table data intact.
func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, data := range b.kv {
		b.used -= int64(len(data))
		delete(b.kv, k)
	}
	return nil
}

// Query returns the matching records of a table, ordered by id.
func (b *MemoryBackend) Query(_ context.Context, table string, conditions map[string]codec.StoredValue) ([]map[string]codec.StoredValue, error) {
	b.mu.RLock()
	rows := b.tables[table]
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]map[string]codec.StoredValue, 0, len(ids))
	var parseErr error
	for _, id := range ids {
		fields, err := codec.UnmarshalFields(rows[id])
		if err != nil {
			parseErr = err
			break
		}
		if matchConditions(fields, conditions) {
			out = append(out, fields)
		}
	}
	b.mu.RUnlock()
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

// Insert stores a new record, rejecting id collisions.
func (b *MemoryBackend) Insert(_ context.Context, table, id string, fields map[string]codec.StoredValue) error {
	data, err := codec.MarshalFields(fields)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.tables[table]
	if rows == nil {
		rows = make(map[string][]byte)
		b.tables[table] = rows
	}
	if _, exists := rows[id]; exists {
		return &ConflictError{Table: table, ID: id}
	}
	if err := b.checkQuota(int64(len(data))); err != nil {
		return err
	}
	rows[id] = data
	b.used += int64(len(data))
	return nil
}

// Update merges fields into an existing record.
func (b *MemoryBackend) Update(_ context.Context, table, id string, fields map[string]codec.StoredValue) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.tables[table]
	existing, ok := rows[id]
	if !ok {
		return &NotFoundError{Table: table, ID: id}
	}

	current, err := codec.UnmarshalFields(existing)
	if err != nil {
		return err
	}
	for k, v := range fields {
		current[k] = v
	}
	data, err := codec.MarshalFields(current)
	if err != nil {
		return err
	}

	delta := int64(len(data)) - int64(len(existing))
	if err := b.checkQuota(delta); err != nil {
		return err
	}
	rows[id] = data
	b.used += delta
	return nil
}

// Delete removes a record; absent ids are a no-op.
func (b *MemoryBackend) Delete(_ context.Context, table, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rows := b.tables[table]; rows != nil {
		if data, ok := rows[id]; ok {
			b.used -= int64(len(data))
			delete(rows, id)
		}
	}
	return nil
}

// Close drops all data.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kv = nil
	b.tables = nil
	b.used = 0
	b.closed = true
	return nil
}
