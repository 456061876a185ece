package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/piwi3910/strata/pkg/storage/codec"
)

func newTestBackend(t *testing.T) *MemoryBackend {
	t.Helper()
	b := NewMemoryBackend(MemoryConfig{})
	if err := b.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	return b
}

func markerMigration(version int, applied *[]int) Migration {
	return Migration{
		Version:     version,
		Description: fmt.Sprintf("marker v%d", version),
		Up: func(ctx context.Context, b Backend) error {
			*applied = append(*applied, version)
			return nil
		},
		Down: func(ctx context.Context, b Backend) error {
			*applied = append(*applied, -version)
			return nil
		},
	}
}

func TestRunnerAppliesInVersionOrder(t *testing.T) {
	b := newTestBackend(t)
	var applied []int

	// Declared out of order on purpose.
	migrations := []Migration{
		markerMigration(3, &applied),
		markerMigration(2, &applied),
	}

	n, err := NewRunner(b).Apply(context.Background(), migrations, 1, 3)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Apply() applied = %d, want 2", n)
	}
	if len(applied) != 2 || applied[0] != 2 || applied[1] != 3 {
		t.Errorf("applied order = %v, want [2 3]", applied)
	}

	version, err := b.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}
}

func TestRunnerSkipsOutOfRangeVersions(t *testing.T) {
	b := newTestBackend(t)
	var applied []int

	migrations := []Migration{
		markerMigration(2, &applied),
		markerMigration(3, &applied),
		markerMigration(4, &applied),
	}

	n, err := NewRunner(b).Apply(context.Background(), migrations, 2, 3)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Apply() applied = %d, want 1", n)
	}
	if len(applied) != 1 || applied[0] != 3 {
		t.Errorf("applied = %v, want [3]", applied)
	}
}

func TestRunnerNoPendingMigrations(t *testing.T) {
	b := newTestBackend(t)
	var applied []int

	n, err := NewRunner(b).Apply(context.Background(), []Migration{markerMigration(2, &applied)}, 2, 2)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if n != 0 || len(applied) != 0 {
		t.Errorf("Apply() applied %d migrations (%v), want none", n, applied)
	}
}

func TestRunnerStopsAtFirstFailure(t *testing.T) {
	b := newTestBackend(t)
	if err := b.SetSchemaVersion(context.Background(), 1); err != nil {
		t.Fatalf("SetSchemaVersion() error = %v", err)
	}

	var applied []int
	boom := errors.New("boom")
	migrations := []Migration{
		{Version: 2, Up: func(ctx context.Context, b Backend) error { return boom }},
		markerMigration(3, &applied),
	}

	n, err := NewRunner(b).Apply(context.Background(), migrations, 1, 3)
	if err == nil {
		t.Fatal("Apply() error = nil, want migration failure")
	}
	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("Apply() error = %T, want *MigrationError", err)
	}
	if migErr.FailedVersion != 2 {
		t.Errorf("FailedVersion = %d, want 2", migErr.FailedVersion)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error does not wrap the migration's failure: %v", err)
	}
	if n != 0 || len(applied) != 0 {
		t.Errorf("migrations past the failure ran: applied=%v", applied)
	}

	// The version record must still point at the last completed version.
	version, _ := b.SchemaVersion(context.Background())
	if version != 1 {
		t.Errorf("schema version = %d, want 1", version)
	}
}

func TestRunnerPersistsEachStep(t *testing.T) {
	b := newTestBackend(t)
	var applied []int
	boom := errors.New("boom")

	migrations := []Migration{
		markerMigration(2, &applied),
		{Version: 3, Up: func(ctx context.Context, b Backend) error { return boom }},
	}

	n, err := NewRunner(b).Apply(context.Background(), migrations, 1, 3)
	if !errors.Is(err, boom) {
		t.Fatalf("Apply() error = %v, want wrapped boom", err)
	}
	if n != 1 {
		t.Errorf("Apply() applied = %d, want 1", n)
	}

	// v2 completed, so a crash here resumes from v2, not from scratch.
	version, _ := b.SchemaVersion(context.Background())
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}
}

func TestRunnerNotifiesPerStep(t *testing.T) {
	b := newTestBackend(t)
	var applied, notified []int

	r := NewRunner(b)
	r.OnApplied = func(version int) { notified = append(notified, version) }

	if _, err := r.Apply(context.Background(), []Migration{
		markerMigration(2, &applied),
		markerMigration(3, &applied),
	}, 1, 3); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(notified) != 2 || notified[0] != 2 || notified[1] != 3 {
		t.Errorf("notified = %v, want [2 3]", notified)
	}
}

func TestRunnerRollbackDescending(t *testing.T) {
	b := newTestBackend(t)
	var applied []int

	migrations := []Migration{
		markerMigration(2, &applied),
		markerMigration(3, &applied),
	}
	r := NewRunner(b)
	if _, err := r.Apply(context.Background(), migrations, 1, 3); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	applied = applied[:0]
	n, err := r.Rollback(context.Background(), migrations, 3, 1)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Rollback() applied = %d, want 2", n)
	}
	if len(applied) != 2 || applied[0] != -3 || applied[1] != -2 {
		t.Errorf("rollback order = %v, want [-3 -2]", applied)
	}

	version, _ := b.SchemaVersion(context.Background())
	if version != 1 {
		t.Errorf("schema version = %d, want 1", version)
	}
}

func TestRunnerRollbackRequiresDown(t *testing.T) {
	b := newTestBackend(t)
	var applied []int

	migrations := []Migration{
		markerMigration(2, &applied),
		{Version: 3, Up: func(ctx context.Context, b Backend) error { return nil }},
	}
	r := NewRunner(b)
	if _, err := r.Apply(context.Background(), migrations, 1, 3); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	applied = applied[:0]
	_, err := r.Rollback(context.Background(), migrations, 3, 1)
	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("Rollback() error = %v, want *MigrationError", err)
	}
	if migErr.FailedVersion != 3 {
		t.Errorf("FailedVersion = %d, want 3", migErr.FailedVersion)
	}
	// Missing Down procedures abort the whole rollback before any step.
	if len(applied) != 0 {
		t.Errorf("rollback ran steps despite missing down: %v", applied)
	}
	version, _ := b.SchemaVersion(context.Background())
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}
}

func TestRunnerMigrationSeesBackendData(t *testing.T) {
	b := newTestBackend(t)

	migrations := []Migration{
		{
			Version: 2,
			Up: func(ctx context.Context, b Backend) error {
				sv, err := codec.Encode("seeded")
				if err != nil {
					return err
				}
				return b.Set(ctx, "migrated", sv)
			},
		},
	}
	if _, err := NewRunner(b).Apply(context.Background(), migrations, 1, 2); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	sv, found, err := b.Get(context.Background(), "migrated")
	if err != nil || !found {
		t.Fatalf("Get(migrated) = found=%v, err=%v", found, err)
	}
	v, err := codec.Decode(sv)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if v != "seeded" {
		t.Errorf("migrated value = %v, want \"seeded\"", v)
	}
}
