package storage

import (
	"context"
	"fmt"
	"sort"
)

// Runner applies schema migrations against one backend in strict ascending
// order, persisting the schema version record after each individual step. A
// crash mid-run therefore leaves the schema at the last fully completed
// version, never at zero and never at the target.
type Runner struct {
	backend Backend

	// OnApplied, when set, is invoked after each successfully persisted step
	// with the schema version that was just recorded.
	OnApplied func(version int)
}

// NewRunner creates a Runner bound to one backend.
func NewRunner(b Backend) *Runner {
	return &Runner{backend: b}
}

func (r *Runner) notify(version int) {
	if r.OnApplied != nil {
		r.OnApplied(version)
	}
}

// Apply runs every migration with a version in (current, target], lowest
// first, regardless of the order they were declared in. It returns the number
// of migrations applied. The first failing step aborts the run with a
// *MigrationError; completed steps are never rolled back automatically.
func (r *Runner) Apply(ctx context.Context, migrations []Migration, current, target int) (int, error) {
	if current == target || len(migrations) == 0 {
		return 0, nil
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	applied := 0
	for _, m := range ordered {
		if m.Version <= current || m.Version > target {
			continue
		}
		if m.Up == nil {
			return applied, &MigrationError{FailedVersion: m.Version, Err: fmt.Errorf("no up procedure")}
		}
		if err := m.Up(ctx, r.backend); err != nil {
			return applied, &MigrationError{FailedVersion: m.Version, Err: err}
		}
		if err := r.backend.SetSchemaVersion(ctx, m.Version); err != nil {
			return applied, &MigrationError{FailedVersion: m.Version, Err: fmt.Errorf("persist schema version: %w", err)}
		}
		applied++
		r.notify(m.Version)
	}
	return applied, nil
}

// Rollback runs Down procedures for every version in (to, current], highest
// first, persisting the schema version after each step. Migrations without a
// Down procedure abort the rollback before any step runs.
func (r *Runner) Rollback(ctx context.Context, migrations []Migration, current, to int) (int, error) {
	if to >= current {
		return 0, nil
	}

	ordered := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if m.Version > to && m.Version <= current {
			ordered = append(ordered, m)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version > ordered[j].Version })

	for _, m := range ordered {
		if m.Down == nil {
			return 0, &MigrationError{FailedVersion: m.Version, Err: fmt.Errorf("no down procedure")}
		}
	}

	applied := 0
	for _, m := range ordered {
		if err := m.Down(ctx, r.backend); err != nil {
			return applied, &MigrationError{FailedVersion: m.Version, Err: err}
		}
		if err := r.backend.SetSchemaVersion(ctx, m.Version-1); err != nil {
			return applied, &MigrationError{FailedVersion: m.Version, Err: fmt.Errorf("persist schema version: %w", err)}
		}
		applied++
		r.notify(m.Version - 1)
	}
	return applied, nil
}
