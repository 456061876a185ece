package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/piwi3910/strata/pkg/storage/codec"
)

func newTestService(t *testing.T, cfg Config, opts ...Option) *Service {
	t.Helper()
	svc, err := New(NewMemoryBackend(MemoryConfig{}), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func baseConfig() Config {
	return Config{Name: "testdb", Version: 1}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing name", Config{Version: 1}},
		{"zero version", Config{Name: "db"}},
		{"migration below v2", Config{Name: "db", Version: 2, Migrations: []Migration{
			{Version: 1, Up: func(ctx context.Context, b Backend) error { return nil }},
		}}},
		{"duplicate version", Config{Name: "db", Version: 3, Migrations: []Migration{
			{Version: 2, Up: func(ctx context.Context, b Backend) error { return nil }},
			{Version: 2, Up: func(ctx context.Context, b Backend) error { return nil }},
		}}},
		{"missing up", Config{Name: "db", Version: 2, Migrations: []Migration{{Version: 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(NewMemoryBackend(MemoryConfig{}), tt.cfg); err == nil {
				t.Errorf("New() accepted invalid config %+v", tt.cfg)
			}
		})
	}
}

func TestInitializeEmptyConfig(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	version, err := svc.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != 1 {
		t.Errorf("schema version = %d, want 1", version)
	}
}

func TestLazyInitialization(t *testing.T) {
	var ran atomic.Int32
	cfg := Config{Name: "testdb", Version: 2, Migrations: []Migration{
		{Version: 2, Up: func(ctx context.Context, b Backend) error {
			ran.Add(1)
			return nil
		}},
	}}
	svc := newTestService(t, cfg)
	ctx := context.Background()

	// No explicit Initialize: the first operation triggers it.
	if err := svc.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := ran.Load(); got != 1 {
		t.Errorf("migration ran %d times, want 1", got)
	}
}

func TestConcurrentInitializeRunsMigrationsOnce(t *testing.T) {
	var ran atomic.Int32
	cfg := Config{Name: "testdb", Version: 3, Migrations: []Migration{
		{Version: 2, Up: func(ctx context.Context, b Backend) error {
			ran.Add(1)
			time.Sleep(10 * time.Millisecond)
			return nil
		}},
		{Version: 3, Up: func(ctx context.Context, b Backend) error {
			ran.Add(1)
			return nil
		}},
	}}
	svc := newTestService(t, cfg)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Initialize(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Initialize()[%d] error = %v", i, err)
		}
	}
	if got := ran.Load(); got != 2 {
		t.Errorf("migrations ran %d times, want 2", got)
	}
}

func TestInitializeLatchesMigrationFailure(t *testing.T) {
	var attempts atomic.Int32
	cfg := Config{Name: "testdb", Version: 2, Migrations: []Migration{
		{Version: 2, Up: func(ctx context.Context, b Backend) error {
			attempts.Add(1)
			return errors.New("broken step")
		}},
	}}
	svc := newTestService(t, cfg)
	ctx := context.Background()

	err := svc.Initialize(ctx)
	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("Initialize() error = %v, want *MigrationError", err)
	}
	if migErr.FailedVersion != 2 {
		t.Errorf("FailedVersion = %d, want 2", migErr.FailedVersion)
	}

	// The failure latches: no operation may re-run the broken step.
	if _, _, err := svc.Get(ctx, "k"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Get() after failed init error = %v, want ErrNotInitialized", err)
	}
	if err := svc.Initialize(ctx); !errors.As(err, &migErr) {
		t.Errorf("second Initialize() error = %v, want latched *MigrationError", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("broken migration attempted %d times, want 1", got)
	}
}

func TestInitializeRejectsNewerSchema(t *testing.T) {
	backend := NewMemoryBackend(MemoryConfig{})
	ctx := context.Background()
	if err := backend.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if err := backend.SetSchemaVersion(ctx, 5); err != nil {
		t.Fatalf("SetSchemaVersion() error = %v", err)
	}

	svc, err := New(backend, Config{Name: "testdb", Version: 2, Migrations: []Migration{
		{Version: 2, Up: func(ctx context.Context, b Backend) error { return nil }},
	}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer svc.Close()

	if err := svc.Initialize(ctx); !errors.Is(err, ErrSchemaTooNew) {
		t.Fatalf("Initialize() error = %v, want ErrSchemaTooNew", err)
	}
	// Downgrade refusals latch like migration failures.
	if _, _, err := svc.Get(ctx, "k"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Get() error = %v, want ErrNotInitialized", err)
	}
}

func TestKVRoundTrip(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	now := time.Now()
	values := map[string]any{
		"nil":    nil,
		"bool":   true,
		"int":    int64(42),
		"float":  3.5,
		"string": "hello",
		"time":   now,
		"bytes":  []byte{0x01, 0x02},
		"list":   []any{int64(1), "two", false},
		"map":    map[string]any{"nested": []any{1.5}},
	}
	for key, want := range values {
		if err := svc.Set(ctx, key, want); err != nil {
			t.Fatalf("Set(%q) error = %v", key, err)
		}
		got, found, err := svc.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%q) error = %v", key, err)
		}
		if !found {
			t.Fatalf("Get(%q) found = false", key)
		}
		if ts, ok := want.(time.Time); ok {
			gotTime, ok := got.(time.Time)
			if !ok || !gotTime.Equal(ts) {
				t.Errorf("Get(%q) = %v, want %v", key, got, ts)
			}
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Get(%q) = %#v, want %#v", key, got, want)
		}
	}
}

func TestGetMissingKey(t *testing.T) {
	svc := newTestService(t, baseConfig())

	v, found, err := svc.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found || v != nil {
		t.Errorf("Get(absent) = (%v, %v), want (nil, false)", v, found)
	}
}

func TestSetOverwrites(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	if err := svc.Set(ctx, "k", "first"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := svc.Set(ctx, "k", int64(2)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, _, err := svc.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != int64(2) {
		t.Errorf("Get() = %v, want 2", got)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	if err := svc.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := svc.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := svc.Remove(ctx, "k"); err != nil {
		t.Errorf("Remove() of absent key error = %v, want nil", err)
	}
	if _, found, _ := svc.Get(ctx, "k"); found {
		t.Error("key still present after Remove()")
	}
}

func TestKeysSorted(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	for _, key := range []string{"charlie", "alpha", "bravo"} {
		if err := svc.Set(ctx, key, key); err != nil {
			t.Fatalf("Set(%q) error = %v", key, err)
		}
	}
	keys, err := svc.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys() = %v, want %v", keys, want)
	}
}

func TestGetManyPositional(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	if err := svc.SetMany(ctx, map[string]any{"a": int64(1), "c": int64(3)}); err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}

	results, err := svc.GetMany(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("GetMany() returned %d results, want 3", len(results))
	}
	if !results[0].Found || results[0].Value != int64(1) {
		t.Errorf("results[0] = %+v, want {1 true}", results[0])
	}
	if results[1].Found {
		t.Errorf("results[1] = %+v, want not found", results[1])
	}
	if !results[2].Found || results[2].Value != int64(3) {
		t.Errorf("results[2] = %+v, want {3 true}", results[2])
	}
}

func TestClearLeavesTables(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	if err := svc.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := svc.Insert(ctx, "items", map[string]any{"name": "kept"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	keys, err := svc.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys() after Clear() = %v, want empty", keys)
	}
	records, err := svc.Query(ctx, "items", nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("table rows after Clear() = %d, want 1", len(records))
	}
}

func TestInsertGeneratesID(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	id, err := svc.Insert(ctx, "items", map[string]any{"name": "widget"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if id == "" {
		t.Fatal("Insert() returned empty id")
	}

	records, err := svc.Query(ctx, "items", Conditions{FieldID: id})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Query() returned %d records, want 1", len(records))
	}
	if records[0][FieldID] != id {
		t.Errorf("record id = %v, want %v", records[0][FieldID], id)
	}
	if records[0]["name"] != "widget" {
		t.Errorf("record name = %v, want widget", records[0]["name"])
	}
}

func TestInsertExplicitID(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	id, err := svc.Insert(ctx, "items", map[string]any{FieldID: "item-1", "name": "widget"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if id != "item-1" {
		t.Errorf("Insert() id = %q, want item-1", id)
	}

	_, err = svc.Insert(ctx, "items", map[string]any{FieldID: "item-1"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate Insert() error = %v, want ErrConflict", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("duplicate Insert() error = %T, want *ConflictError", err)
	}
	if conflict.Table != "items" || conflict.ID != "item-1" {
		t.Errorf("ConflictError = %+v, want table items, id item-1", conflict)
	}
}

func TestInsertRejectsBadID(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	if _, err := svc.Insert(ctx, "items", map[string]any{FieldID: 7}); err == nil {
		t.Error("Insert() accepted a non-string id")
	}
	if _, err := svc.Insert(ctx, "items", map[string]any{FieldID: ""}); err == nil {
		t.Error("Insert() accepted an empty id")
	}
}

func TestQueryConditions(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	seed := []map[string]any{
		{FieldID: "a", "color": "red", "size": int64(1)},
		{FieldID: "b", "color": "blue", "size": int64(2)},
		{FieldID: "c", "color": "red", "size": int64(2)},
	}
	for _, rec := range seed {
		if _, err := svc.Insert(ctx, "items", rec); err != nil {
			t.Fatalf("Insert(%v) error = %v", rec[FieldID], err)
		}
	}

	tests := []struct {
		name       string
		conditions Conditions
		wantIDs    []string
	}{
		{"all rows ordered by id", nil, []string{"a", "b", "c"}},
		{"single condition", Conditions{"color": "red"}, []string{"a", "c"}},
		{"conjunction", Conditions{"color": "red", "size": int64(2)}, []string{"c"}},
		{"no match", Conditions{"color": "green"}, nil},
		{"unknown field", Conditions{"weight": int64(9)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := svc.Query(ctx, "items", tt.conditions)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			var gotIDs []string
			for _, rec := range records {
				gotIDs = append(gotIDs, rec[FieldID].(string))
			}
			if !reflect.DeepEqual(gotIDs, tt.wantIDs) {
				t.Errorf("Query() ids = %v, want %v", gotIDs, tt.wantIDs)
			}
		})
	}
}

func TestQueryUnknownTable(t *testing.T) {
	svc := newTestService(t, baseConfig())

	records, err := svc.Query(context.Background(), "nothing", nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Query() on unknown table = %v, want empty", records)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	if _, err := svc.Insert(ctx, "items", map[string]any{FieldID: "a", "color": "red", "size": int64(1)}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := svc.Update(ctx, "items", "a", map[string]any{"size": int64(9), FieldID: "hijack"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	records, err := svc.Query(ctx, "items", Conditions{FieldID: "a"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Query() returned %d records, want 1", len(records))
	}
	rec := records[0]
	if rec["size"] != int64(9) {
		t.Errorf("size = %v, want 9", rec["size"])
	}
	if rec["color"] != "red" {
		t.Errorf("untouched field color = %v, want red", rec["color"])
	}
	if rec[FieldID] != "a" {
		t.Errorf("id = %v, the id field must not be rewritable", rec[FieldID])
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	svc := newTestService(t, baseConfig())

	err := svc.Update(context.Background(), "items", "ghost", map[string]any{"x": int64(1)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Update() error = %T, want *NotFoundError", err)
	}
	if nf.Table != "items" || nf.ID != "ghost" {
		t.Errorf("NotFoundError = %+v, want table items, id ghost", nf)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	if _, err := svc.Insert(ctx, "items", map[string]any{FieldID: "a"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := svc.Delete(ctx, "items", "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := svc.Delete(ctx, "items", "a"); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
	if err := svc.Delete(ctx, "no-such-table", "a"); err != nil {
		t.Errorf("Delete() on unknown table error = %v, want nil", err)
	}
}

func TestSetUnsupportedValue(t *testing.T) {
	svc := newTestService(t, baseConfig())

	err := svc.Set(context.Background(), "k", func() {})
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Set(func) error = %v, want ErrUnsupportedValue", err)
	}
}

func TestStatusReportsPending(t *testing.T) {
	cfg := Config{Name: "testdb", Version: 3, Migrations: []Migration{
		{Version: 2, Up: func(ctx context.Context, b Backend) error { return nil },
			Down: func(ctx context.Context, b Backend) error { return nil }},
		{Version: 3, Up: func(ctx context.Context, b Backend) error { return nil },
			Down: func(ctx context.Context, b Backend) error { return nil }},
	}}
	svc := newTestService(t, cfg)
	ctx := context.Background()

	st, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Initialized {
		t.Error("Status() reports initialized before Initialize()")
	}
	if !reflect.DeepEqual(st.Pending, []int{2, 3}) {
		t.Errorf("Pending = %v, want [2 3]", st.Pending)
	}

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	st, err = svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Initialized || st.CurrentVersion != 3 || len(st.Pending) != 0 {
		t.Errorf("Status() after init = %+v, want current=3, no pending", st)
	}
}

func TestRollbackToVersion(t *testing.T) {
	var downs []int
	cfg := Config{Name: "testdb", Version: 3, Migrations: []Migration{
		{Version: 2,
			Up:   func(ctx context.Context, b Backend) error { return nil },
			Down: func(ctx context.Context, b Backend) error { downs = append(downs, 2); return nil }},
		{Version: 3,
			Up:   func(ctx context.Context, b Backend) error { return nil },
			Down: func(ctx context.Context, b Backend) error { downs = append(downs, 3); return nil }},
	}}
	svc := newTestService(t, cfg)
	ctx := context.Background()

	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := svc.Rollback(ctx, 1); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if !reflect.DeepEqual(downs, []int{3, 2}) {
		t.Errorf("down order = %v, want [3 2]", downs)
	}

	st, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.CurrentVersion != 1 {
		t.Errorf("current version after rollback = %d, want 1", st.CurrentVersion)
	}

	if err := svc.Rollback(ctx, 0); err == nil {
		t.Error("Rollback(0) succeeded, want error: v1 is the base schema")
	}
	// Rolling back to the current or a higher version is a no-op.
	if err := svc.Rollback(ctx, 5); err != nil {
		t.Errorf("Rollback(5) error = %v, want nil", err)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	if err := svc.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}

	if _, _, err := svc.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after Close() error = %v, want ErrClosed", err)
	}
	if err := svc.Initialize(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Initialize() after Close() error = %v, want ErrClosed", err)
	}
	if _, err := svc.Status(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Status() after Close() error = %v, want ErrClosed", err)
	}
}

// stallingBackend blocks reads until the operation deadline fires.
type stallingBackend struct {
	*MemoryBackend
}

func (b *stallingBackend) Get(ctx context.Context, key string) (codec.StoredValue, bool, error) {
	<-ctx.Done()
	return codec.Null, false, ctx.Err()
}

func TestOperationTimeout(t *testing.T) {
	backend := &stallingBackend{MemoryBackend: NewMemoryBackend(MemoryConfig{})}
	svc, err := New(backend, baseConfig(), WithTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer svc.Close()

	_, _, err = svc.Get(context.Background(), "k")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Get() error = %v, want ErrTimeout", err)
	}
}

func TestMemoryQuota(t *testing.T) {
	backend := NewMemoryBackend(MemoryConfig{MaxBytes: 64})
	svc, err := New(backend, baseConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer svc.Close()
	ctx := context.Background()

	if err := svc.Set(ctx, "small", "x"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	big := make([]byte, 256)
	if err := svc.Set(ctx, "big", big); err == nil {
		t.Error("Set() above the quota succeeded, want error")
	}
	// The small entry must be unaffected by the rejected write.
	if _, found, err := svc.Get(ctx, "small"); err != nil || !found {
		t.Errorf("Get(small) = found=%v, err=%v after rejected write", found, err)
	}
}

func TestInsertManyDistinctIDs(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := svc.Insert(ctx, "items", map[string]any{"n": int64(i)})
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate generated id %q", id)
		}
		seen[id] = true
	}
	records, err := svc.Query(ctx, "items", nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 50 {
		t.Errorf("Query() returned %d records, want 50", len(records))
	}
	for i := 1; i < len(records); i++ {
		a := records[i-1][FieldID].(string)
		b := records[i][FieldID].(string)
		if a >= b {
			t.Fatalf("records not ordered by id: %q before %q", a, b)
		}
	}
}

func TestTimestampPrecisionSurvivesStorage(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	ts := time.Date(2026, 8, 26, 10, 30, 0, 123456789, time.UTC)
	if err := svc.Set(ctx, "ts", ts); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, _, err := svc.Get(ctx, "ts")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	gotTime, ok := got.(time.Time)
	if !ok {
		t.Fatalf("Get() = %T, want time.Time", got)
	}
	if !gotTime.Equal(ts) {
		t.Errorf("Get() = %v, want %v", gotTime, ts)
	}
	if gotTime.UnixMilli() != ts.UnixMilli() {
		t.Errorf("millisecond precision lost: %d != %d", gotTime.UnixMilli(), ts.UnixMilli())
	}
}

func TestConcurrentKVAccess(t *testing.T) {
	svc := newTestService(t, baseConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i%4)
			for j := 0; j < 25; j++ {
				if err := svc.Set(ctx, key, int64(j)); err != nil {
					t.Errorf("Set() error = %v", err)
					return
				}
				if _, _, err := svc.Get(ctx, key); err != nil {
					t.Errorf("Get() error = %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
