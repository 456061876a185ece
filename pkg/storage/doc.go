// Package storage is a cross-backend persistence engine: one contract for
// key-value storage, schemaless table operations, and versioned schema
// migration, implemented identically over an in-process document store, an
// embedded SQLite file, and a networked Postgres database.
//
// The Service is the sole entry point. It wraps one Backend adapter, owns
// the migration lifecycle, and passes every value through the codec
// subpackage so the same call sequence yields the same observable results on
// every substrate:
//
//	backend, _ := storage.NewSQLiteBackend(storage.SQLiteConfig{Path: "app.db"})
//	svc, err := storage.New(backend, storage.Config{
//	    Name:    "assistant",
//	    Version: 2,
//	    Migrations: []storage.Migration{{
//	        Version:     2,
//	        Description: "seed default settings",
//	        Up: func(ctx context.Context, b storage.Backend) error {
//	            v, _ := codec.Encode("dark")
//	            return b.Set(ctx, "settings:theme", v)
//	        },
//	    }},
//	})
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	id, err := svc.Insert(ctx, "conversations", map[string]any{
//	    "title":      "hello",
//	    "created_at": time.Now(),
//	})
//
// Initialization is lazy and idempotent: the first operation bootstraps the
// backend and applies pending migrations exactly once, also under concurrent
// first use. A failed migration aborts initialization with a MigrationError
// and leaves the instance unusable.
package storage
