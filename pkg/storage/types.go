package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

// FieldID is the synthetic identifier field every record carries.
const FieldID = "id"

// Record is one row-equivalent unit of table data in its decoded form.
// The value space is the codec's canonical one: nil, bool, int64, float64,
// string, time.Time, []byte, []any, map[string]any.
type Record = map[string]any

// Conditions is an exact-match conjunction over field names.
type Conditions = map[string]any

// MigrationFunc transforms data or schema through the generic backend
// contract, so one migration runs identically over every substrate.
type MigrationFunc func(ctx context.Context, b Backend) error

// Migration brings stored data forward one schema version. Down is the
// inverse of Up and is only invoked through an explicit Rollback, never
// automatically.
type Migration struct {
	Version     int
	Description string
	Up          MigrationFunc
	Down        MigrationFunc
}

// Config identifies a logical database: its name, the schema version this
// build targets, and the migrations that reach it. Immutable once a Service
// has been constructed from it.
type Config struct {
	Name       string `validate:"required"`
	Version    int    `validate:"required,min=1"`
	Migrations []Migration
}

var validate = validator.New()

// Validate checks the config shape: migration versions must be unique,
// at least 2, and carry an Up procedure.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	seen := make(map[int]bool, len(c.Migrations))
	for _, m := range c.Migrations {
		if m.Version < 2 {
			return fmt.Errorf("invalid storage config: migration version %d must be >= 2", m.Version)
		}
		if seen[m.Version] {
			return fmt.Errorf("invalid storage config: duplicate migration version %d", m.Version)
		}
		if m.Up == nil {
			return fmt.Errorf("invalid storage config: migration v%d has no up procedure", m.Version)
		}
		seen[m.Version] = true
	}
	return nil
}

// sortedMigrations returns the migrations in ascending version order without
// mutating the config's slice.
func (c Config) sortedMigrations() []Migration {
	out := make([]Migration, len(c.Migrations))
	copy(out, c.Migrations)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
