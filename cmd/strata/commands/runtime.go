package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/piwi3910/strata/pkg/config"
	"github.com/piwi3910/strata/pkg/storage"
	"github.com/piwi3910/strata/pkg/telemetry"
)

// defaultConfigFile is picked up from the working directory when --config is
// not given.
const defaultConfigFile = "strata.yaml"

// runtime bundles what every command needs: the loaded config, the telemetry
// stack, and a storage service over the configured backend.
type runtime struct {
	cfg *config.Config
	tel *telemetry.Telemetry
	svc *storage.Service
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return config.Load(defaultConfigFile)
	}
	return config.Default(), nil
}

func newRuntime() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	telCfg := cfg.Telemetry.ToTelemetry(buildVersion)
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	svc, err := storage.Open(
		storage.Config{Name: cfg.Storage.Name, Version: cfg.Storage.Version},
		cfg.Storage.BackendConfig(),
		storage.WithLogger(tel.Logger.NewComponentLogger("storage")),
		storage.WithMetrics(tel.Metrics),
		storage.WithTracer(tel.Tracer),
		storage.WithTimeout(cfg.Storage.Timeout),
	)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, tel: tel, svc: svc}, nil
}

func (r *runtime) close() {
	_ = r.svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = r.tel.Shutdown(ctx)
}

// emitJSON writes v as indented JSON to stdout.
func emitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseValue turns a CLI argument into a stored value. Booleans, integers,
// and floats are recognized first, then JSON composites, and anything else
// stays a plain string.
func parseValue(arg string) any {
	if b, err := strconv.ParseBool(arg); err == nil && (arg == "true" || arg == "false") {
		return b
	}
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(arg, 64); err == nil {
		return f
	}
	if len(arg) > 0 && (arg[0] == '{' || arg[0] == '[' || arg == "null") {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err == nil {
			return v
		}
	}
	return arg
}

// parseRecord parses a JSON object argument into a record payload.
func parseRecord(arg string) (map[string]any, error) {
	var rec map[string]any
	if err := json.Unmarshal([]byte(arg), &rec); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return rec, nil
}

// formatValue renders a stored value for human-readable output.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		return fmt.Sprintf("0x%x", val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
