package storage

import (
	"context"

	"github.com/piwi3910/strata/pkg/storage/codec"
)

// Backend executes key-value and table operations against one physical
// substrate. All three implementations must produce the same observable
// results for the same call sequence; substrate concerns (pooling, file
// locking, quotas) stay internal.
//
// Values cross this boundary already encoded. Conditions are matched as an
// exact conjunction using codec equality. Query results are ordered by id so
// results are deterministic across substrates.
type Backend interface {
	// Name identifies the substrate in logs, metrics, and errors.
	Name() string

	// Bootstrap acquires the substrate's resources and creates whatever
	// physical layout the backend needs. Called once during initialization,
	// before the schema version is read.
	Bootstrap(ctx context.Context) error

	// SchemaVersion returns the last successfully applied migration version,
	// or 0 for a database that has never been initialized.
	SchemaVersion(ctx context.Context) (int, error)

	// SetSchemaVersion persists the schema version record. The runner calls
	// it after each individual migration step.
	SetSchemaVersion(ctx context.Context, version int) error

	// Get returns the value for key, with found=false for an absent key.
	Get(ctx context.Context, key string) (codec.StoredValue, bool, error)

	// Set stores a value under key, replacing any existing value.
	Set(ctx context.Context, key string, value codec.StoredValue) error

	// Remove deletes a key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists all key-value keys in lexical order.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes every key-value entry. Table data is untouched.
	Clear(ctx context.Context) error

	// Query returns the records of a table matching all conditions, ordered
	// by id. An unknown table yields an empty result, never an error.
	Query(ctx context.Context, table string, conditions map[string]codec.StoredValue) ([]map[string]codec.StoredValue, error)

	// Insert stores a new record. The fields map already contains the id
	// field. An existing id fails with *ConflictError.
	Insert(ctx context.Context, table, id string, fields map[string]codec.StoredValue) error

	// Update merges fields into an existing record. A missing id fails with
	// *NotFoundError.
	Update(ctx context.Context, table, id string, fields map[string]codec.StoredValue) error

	// Delete removes a record. Deleting an absent id is a silent no-op.
	Delete(ctx context.Context, table, id string) error

	// Close releases the substrate's resources.
	Close() error
}

// matchConditions reports whether a record satisfies every condition.
func matchConditions(record, conditions map[string]codec.StoredValue) bool {
	for field, want := range conditions {
		got, ok := record[field]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}
