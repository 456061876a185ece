package storage

import (
	"fmt"
)

// BackendKind names one of the supported substrates.
type BackendKind string

const (
	BackendMemory   BackendKind = "memory"
	BackendSQLite   BackendKind = "sqlite"
	BackendPostgres BackendKind = "postgres"
)

// BackendConfig selects and configures one substrate.
type BackendConfig struct {
	Kind     BackendKind    `yaml:"kind" validate:"required,oneof=memory sqlite postgres"`
	Memory   MemoryConfig   `yaml:"memory"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// NewBackend constructs the adapter named by the config.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case BackendMemory:
		return NewMemoryBackend(cfg.Memory), nil
	case BackendSQLite:
		return NewSQLiteBackend(cfg.SQLite)
	case BackendPostgres:
		return NewPostgresBackend(cfg.Postgres)
	default:
		return nil, fmt.Errorf("storage: unknown backend kind %q", cfg.Kind)
	}
}

// Open constructs a Service over the backend named by the config. The
// service initializes lazily on first use; call Initialize to do it eagerly.
func Open(cfg Config, backendCfg BackendConfig, opts ...Option) (*Service, error) {
	backend, err := NewBackend(backendCfg)
	if err != nil {
		return nil, err
	}
	return New(backend, cfg, opts...)
}
