package storage

import (
	"errors"
	"fmt"

	"github.com/piwi3910/strata/pkg/storage/codec"
)

// Sentinel errors for storage operations. Callers match them with errors.Is.
var (
	// ErrNotInitialized is returned for operations attempted before a
	// successful Initialize.
	ErrNotInitialized = errors.New("storage not initialized")

	// ErrClosed is returned for operations attempted after Close.
	ErrClosed = errors.New("storage closed")

	// ErrNotFound is returned when an update targets a missing record.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when an insert supplies an id that already
	// exists in the table.
	ErrConflict = errors.New("record already exists")

	// ErrTimeout is returned when a backend operation exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrSchemaTooNew is returned when the persisted schema version exceeds
	// the version this build targets.
	ErrSchemaTooNew = errors.New("schema version newer than target")

	// ErrUnsupportedValue mirrors the codec sentinel for convenience.
	ErrUnsupportedValue = codec.ErrUnsupportedValue
)

// MigrationError reports the migration step that failed during Initialize or
// Rollback. Initialize never leaves a half-applied step behind: the schema
// version record points at the last fully completed version.
type MigrationError struct {
	FailedVersion int
	Err           error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration v%d failed: %v", e.FailedVersion, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// NotFoundError identifies the table and id an operation could not find.
type NotFoundError struct {
	Table string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %q not found in table %q", e.ID, e.Table)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError identifies the table and id an insert collided on.
type ConflictError struct {
	Table string
	ID    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record %q already exists in table %q", e.ID, e.Table)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// BackendError is the opaque passthrough for substrate-specific failures.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
