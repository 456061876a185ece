// Package config loads and validates the application configuration: which
// backend to run against, the logical database identity, and the telemetry
// setup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/piwi3910/strata/pkg/storage"
	"github.com/piwi3910/strata/pkg/telemetry"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Storage   StorageConfig   `yaml:"storage" validate:"required"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig selects the backend and names the logical database.
type StorageConfig struct {
	Name    string              `yaml:"name" validate:"required"`
	Version int                 `yaml:"version" validate:"required,min=1"`
	Timeout time.Duration       `yaml:"timeout"`
	Backend storage.BackendKind `yaml:"backend" validate:"required,oneof=memory sqlite postgres"`

	Memory   storage.MemoryConfig   `yaml:"memory"`
	SQLite   storage.SQLiteConfig   `yaml:"sqlite"`
	Postgres storage.PostgresConfig `yaml:"postgres"`
}

// BackendConfig converts the storage section into the factory's input.
func (c StorageConfig) BackendConfig() storage.BackendConfig {
	return storage.BackendConfig{
		Kind:     c.Backend,
		Memory:   c.Memory,
		SQLite:   c.SQLite,
		Postgres: c.Postgres,
	}
}

// TelemetryConfig is the YAML shape of the telemetry setup.
type TelemetryConfig struct {
	Environment string `yaml:"environment"`

	Logging struct {
		Level        string `yaml:"level"`
		Format       string `yaml:"format" validate:"omitempty,oneof=console json"`
		Output       string `yaml:"output"`
		EnableCaller bool   `yaml:"enable_caller"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address"`
		Path          string `yaml:"path"`
	} `yaml:"metrics"`

	Tracing struct {
		Enabled      bool    `yaml:"enabled"`
		Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
		Endpoint     string  `yaml:"endpoint"`
		SamplingRate float64 `yaml:"sampling_rate" validate:"min=0,max=1"`
		Insecure     bool    `yaml:"insecure"`
	} `yaml:"tracing"`
}

// ToTelemetry folds the YAML shape onto the telemetry package's defaults.
func (c TelemetryConfig) ToTelemetry(serviceVersion string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = serviceVersion
	if c.Environment != "" {
		cfg.Environment = c.Environment
	}
	if c.Logging.Level != "" {
		cfg.Logging.Level = c.Logging.Level
	}
	if c.Logging.Format != "" {
		cfg.Logging.Format = c.Logging.Format
	}
	if c.Logging.Output != "" {
		cfg.Logging.Output = c.Logging.Output
	}
	cfg.Logging.EnableCaller = c.Logging.EnableCaller

	cfg.Metrics.Enabled = c.Metrics.Enabled
	if c.Metrics.ListenAddress != "" {
		cfg.Metrics.ListenAddress = c.Metrics.ListenAddress
	}
	if c.Metrics.Path != "" {
		cfg.Metrics.Path = c.Metrics.Path
	}

	cfg.Tracing.Enabled = c.Tracing.Enabled
	if c.Tracing.Exporter != "" {
		cfg.Tracing.Exporter = c.Tracing.Exporter
	}
	if c.Tracing.Endpoint != "" {
		cfg.Tracing.Endpoint = c.Tracing.Endpoint
	}
	if c.Tracing.SamplingRate > 0 {
		cfg.Tracing.SamplingRate = c.Tracing.SamplingRate
	}
	cfg.Tracing.Insecure = c.Tracing.Insecure
	return cfg
}

var validate = validator.New()

// Default returns a configuration suitable for first runs: an in-memory
// backend at schema version 1.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Name:    "strata",
			Version: 1,
			Backend: storage.BackendMemory,
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads, parses, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration, including backend-specific requirements
// validator tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Storage.Backend {
	case storage.BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("invalid config: sqlite backend requires storage.sqlite.path")
		}
	case storage.BackendPostgres:
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("invalid config: postgres backend requires storage.postgres.url")
		}
	}
	return nil
}
