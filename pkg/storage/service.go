package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/piwi3910/strata/pkg/storage/codec"
	"github.com/piwi3910/strata/pkg/telemetry"
)

// Result is one positional entry of a GetMany lookup.
type Result struct {
	Value any
	Found bool
}

// Status describes where a database stands relative to the configured target.
type Status struct {
	Database       string
	Backend        string
	CurrentVersion int
	TargetVersion  int
	Pending        []int
	Initialized    bool
}

// Service is the sole entry point to the persistence engine. It wraps one
// backend adapter, owns the migration lifecycle, and funnels every value
// through the codec.
//
// Initialization is lazy: the first operation triggers it. A failed
// migration latches the failure; the instance is then unusable and a fresh
// Service must be constructed.
type Service struct {
	cfg     Config
	backend Backend
	runner  *Runner

	log     *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	timeout time.Duration

	mu          sync.Mutex
	initialized bool
	initErr     error
	closed      bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer attaches a tracer; every operation then runs inside a span.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithTimeout bounds every backend operation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// New constructs a Service over one backend. The config is validated here
// and immutable afterwards.
func New(backend Backend, cfg Config, opts ...Option) (*Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage: backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		backend: backend,
		log:     telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithDatabase(cfg.Name).WithBackend(backend.Name())

	s.runner = NewRunner(backend)
	s.runner.OnApplied = func(version int) {
		s.log.Infof("applied migration, schema now at v%d", version)
		if s.metrics != nil {
			s.metrics.RecordMigrationApplied(backend.Name())
			s.metrics.SetSchemaVersion(cfg.Name, backend.Name(), version)
		}
	}
	return s, nil
}

// Initialize brings the backend to the target schema version. It is
// idempotent and safe for concurrent callers: the first call does the work,
// overlapping callers wait for it, and migrations run exactly once.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked(ctx)
}

func (s *Service) initializeLocked(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.initialized {
		return nil
	}
	if s.initErr != nil {
		return s.initErr
	}

	start := time.Now()
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.backend.Bootstrap(opCtx); err != nil {
		// Bootstrap failures are substrate trouble, not schema trouble; they
		// do not latch, so a later call may retry.
		return s.timeoutOr(opCtx, &BackendError{Backend: s.backend.Name(), Op: "bootstrap", Err: err})
	}

	current, err := s.backend.SchemaVersion(opCtx)
	if err != nil {
		return s.timeoutOr(opCtx, &BackendError{Backend: s.backend.Name(), Op: "schema version", Err: err})
	}
	if current == 0 {
		// A version record of 0 means the database has never been
		// initialized. Bootstrap just created the base layout, which is v1;
		// migrations start at v2.
		if err := s.backend.SetSchemaVersion(opCtx, 1); err != nil {
			return s.timeoutOr(opCtx, &BackendError{Backend: s.backend.Name(), Op: "schema version", Err: err})
		}
		current = 1
	}
	if current > s.cfg.Version {
		s.initErr = fmt.Errorf("%w: database at v%d, target v%d", ErrSchemaTooNew, current, s.cfg.Version)
		return s.initErr
	}

	if current < s.cfg.Version {
		s.log.Infof("migrating schema from v%d to v%d", current, s.cfg.Version)
	}
	applied, err := s.runner.Apply(opCtx, s.cfg.Migrations, current, s.cfg.Version)
	if err != nil {
		var migErr *MigrationError
		if errors.As(err, &migErr) {
			// Migration failures are deterministic: latch them so every
			// later call fails fast instead of re-running a broken step.
			s.initErr = err
		}
		return err
	}

	s.initialized = true
	if s.metrics != nil {
		s.metrics.RecordInit(time.Since(start))
		s.metrics.SetSchemaVersion(s.cfg.Name, s.backend.Name(), s.cfg.Version)
		s.metrics.BackendOpened()
	}
	s.log.WithField("migrations_applied", applied).Info("storage initialized")
	return nil
}

// ensureInitialized performs the lazy first-use initialization.
func (s *Service) ensureInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.initialized {
		return nil
	}
	if s.initErr != nil {
		return fmt.Errorf("%w: %v", ErrNotInitialized, s.initErr)
	}
	return s.initializeLocked(ctx)
}

func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// timeoutOr maps a deadline expiry onto ErrTimeout, otherwise returns err.
func (s *Service) timeoutOr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s backend: %w", s.backend.Name(), ErrTimeout)
	}
	return err
}

// convertErr normalizes adapter errors: engine errors pass through, deadline
// expiry becomes ErrTimeout, anything else is wrapped as a BackendError.
func (s *Service) convertErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrUnsupportedValue):
		return err
	}
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return err
	}
	return &BackendError{Backend: s.backend.Name(), Op: op, Err: err}
}

// do wraps one operation with lazy init, deadline, tracing, and metrics.
func (s *Service) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := s.ensureInitialized(ctx); err != nil {
		return err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	var span trace.Span
	if s.tracer != nil {
		opCtx, span = s.tracer.StartOpSpan(opCtx, op, s.backend.Name())
		defer span.End()
	}

	start := time.Now()
	err := s.convertErr(opCtx, op, fn(opCtx))

	if s.metrics != nil {
		s.metrics.RecordOp(op, s.backend.Name(), time.Since(start))
		if err != nil {
			s.metrics.RecordOpError(op, s.backend.Name(), errKind(err))
		}
	}
	if span != nil {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
	}
	return err
}

// Get returns the value stored under key, with found=false for absent keys.
func (s *Service) Get(ctx context.Context, key string) (any, bool, error) {
	var (
		value any
		found bool
	)
	err := s.do(ctx, "get", func(ctx context.Context) error {
		sv, ok, err := s.backend.Get(ctx, key)
		if err != nil || !ok {
			return err
		}
		v, err := codec.Decode(sv)
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Set stores a value under key, replacing any existing value.
func (s *Service) Set(ctx context.Context, key string, value any) error {
	sv, err := codec.Encode(value)
	if err != nil {
		return err
	}
	return s.do(ctx, "set", func(ctx context.Context) error {
		return s.backend.Set(ctx, key, sv)
	})
}

// Remove deletes a key. Removing an absent key succeeds.
func (s *Service) Remove(ctx context.Context, key string) error {
	return s.do(ctx, "remove", func(ctx context.Context) error {
		return s.backend.Remove(ctx, key)
	})
}

// Keys lists all key-value keys in lexical order.
func (s *Service) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.do(ctx, "keys", func(ctx context.Context) error {
		var err error
		keys, err = s.backend.Keys(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Clear removes every key-value entry. Table data is never touched.
func (s *Service) Clear(ctx context.Context) error {
	return s.do(ctx, "clear", func(ctx context.Context) error {
		return s.backend.Clear(ctx)
	})
}

// GetMany looks up all keys and returns results positionally aligned with
// the input: result i belongs to keys[i], with Found=false for absent keys.
func (s *Service) GetMany(ctx context.Context, keys []string) ([]Result, error) {
	results := make([]Result, len(keys))
	err := s.do(ctx, "get_many", func(ctx context.Context) error {
		for i, key := range keys {
			sv, ok, err := s.backend.Get(ctx, key)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			v, err := codec.Decode(sv)
			if err != nil {
				return err
			}
			results[i] = Result{Value: v, Found: true}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SetMany applies all writes. There is no cross-key atomicity: a failure may
// leave earlier keys written, but no single key is ever partially written.
func (s *Service) SetMany(ctx context.Context, entries map[string]any) error {
	encoded := make(map[string]codec.StoredValue, len(entries))
	for key, value := range entries {
		sv, err := codec.Encode(value)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		encoded[key] = sv
	}
	return s.do(ctx, "set_many", func(ctx context.Context) error {
		for key, sv := range encoded {
			if err := s.backend.Set(ctx, key, sv); err != nil {
				return err
			}
		}
		return nil
	})
}

// Query returns the records of a table matching every condition, ordered by
// id. A nil conditions map returns the whole table; an unknown table returns
// an empty slice.
func (s *Service) Query(ctx context.Context, table string, conditions Conditions) ([]Record, error) {
	encodedCond, err := codec.EncodeFields(conditions)
	if err != nil {
		return nil, err
	}

	var records []Record
	err = s.do(ctx, "query", func(ctx context.Context) error {
		rows, err := s.backend.Query(ctx, table, encodedCond)
		if err != nil {
			return err
		}
		records = make([]Record, len(rows))
		for i, row := range rows {
			rec, err := codec.DecodeFields(row)
			if err != nil {
				return err
			}
			records[i] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Insert stores a record and returns its id: the caller-supplied one when
// the payload carries an id field, a generated one otherwise. A collision
// with an existing id fails with a ConflictError.
func (s *Service) Insert(ctx context.Context, table string, data map[string]any) (string, error) {
	id := ""
	if raw, ok := data[FieldID]; ok {
		str, ok := raw.(string)
		if !ok || str == "" {
			return "", fmt.Errorf("storage: insert into %q: id field must be a non-empty string", table)
		}
		id = str
	} else {
		id = GenerateID()
	}

	fields, err := codec.EncodeFields(data)
	if err != nil {
		return "", err
	}
	fields[FieldID] = codec.StoredValue{Kind: codec.KindString, Str: id}

	err = s.do(ctx, "insert", func(ctx context.Context) error {
		return s.backend.Insert(ctx, table, id, fields)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update merges the partial payload into an existing record, touching only
// the fields present in it. A missing id fails with a NotFoundError. The id
// field itself cannot be rewritten.
func (s *Service) Update(ctx context.Context, table, id string, partial map[string]any) error {
	fields, err := codec.EncodeFields(partial)
	if err != nil {
		return err
	}
	delete(fields, FieldID)

	return s.do(ctx, "update", func(ctx context.Context) error {
		return s.backend.Update(ctx, table, id, fields)
	})
}

// Delete removes a record. Deleting an absent id is a silent no-op, so
// cleanup code can stay idempotent.
func (s *Service) Delete(ctx context.Context, table, id string) error {
	return s.do(ctx, "delete", func(ctx context.Context) error {
		return s.backend.Delete(ctx, table, id)
	})
}

// Rollback walks the schema back down to the given version by applying Down
// procedures highest-first. It is never triggered automatically.
func (s *Service) Rollback(ctx context.Context, toVersion int) error {
	if toVersion < 1 {
		return fmt.Errorf("storage: cannot roll back below v1")
	}
	if err := s.ensureInitialized(ctx); err != nil {
		return err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	current, err := s.backend.SchemaVersion(opCtx)
	if err != nil {
		return s.timeoutOr(opCtx, &BackendError{Backend: s.backend.Name(), Op: "schema version", Err: err})
	}
	if toVersion >= current {
		return nil
	}
	s.log.Infof("rolling back schema from v%d to v%d", current, toVersion)
	_, err = s.runner.Rollback(opCtx, s.cfg.Migrations, current, toVersion)
	return err
}

// Status reports the persisted schema version against the configured target
// without running any migration.
func (s *Service) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Status{}, ErrClosed
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.backend.Bootstrap(opCtx); err != nil {
		return Status{}, s.timeoutOr(opCtx, &BackendError{Backend: s.backend.Name(), Op: "bootstrap", Err: err})
	}
	current, err := s.backend.SchemaVersion(opCtx)
	if err != nil {
		return Status{}, s.timeoutOr(opCtx, &BackendError{Backend: s.backend.Name(), Op: "schema version", Err: err})
	}

	st := Status{
		Database:       s.cfg.Name,
		Backend:        s.backend.Name(),
		CurrentVersion: current,
		TargetVersion:  s.cfg.Version,
		Initialized:    s.initialized,
	}
	base := current
	if base == 0 {
		base = 1
	}
	for _, m := range s.cfg.sortedMigrations() {
		if m.Version > base && m.Version <= s.cfg.Version {
			st.Pending = append(st.Pending, m.Version)
		}
	}
	return st, nil
}

// SchemaVersion returns the backend's persisted schema version.
func (s *Service) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.do(ctx, "schema_version", func(ctx context.Context) error {
		var err error
		version, err = s.backend.SchemaVersion(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// TargetVersion returns the schema version this build migrates to.
func (s *Service) TargetVersion() int {
	return s.cfg.Version
}

// Close releases the backend's resources. It is terminal: every later
// operation fails with ErrClosed. Closing twice is harmless.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	wasInitialized := s.initialized
	s.initialized = false

	err := s.backend.Close()
	if s.metrics != nil && wasInitialized {
		s.metrics.BackendClosed()
	}
	s.log.Debug("storage closed")
	if err != nil {
		return &BackendError{Backend: s.backend.Name(), Op: "close", Err: err}
	}
	return nil
}

// errKind maps an operation error onto a low-cardinality metrics label.
func errKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnsupportedValue):
		return "unsupported_value"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "backend"
	}
}
