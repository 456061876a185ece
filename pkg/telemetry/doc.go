// Package telemetry provides observability instrumentation for Strata.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and metrics (Prometheus) behind a unified Telemetry
// handle. The storage service accepts the individual pieces as options, so
// library consumers can wire only what they need.
//
// Initialize at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Key metrics exposed at the /metrics endpoint:
//
//   - strata_ops_total{op,backend}
//   - strata_op_duration_seconds{op,backend}
//   - strata_op_errors_total{op,backend,kind}
//   - strata_migrations_applied_total{backend}
//   - strata_schema_version{database,backend}
//   - strata_init_duration_seconds
//   - strata_open_backends
package telemetry
