// Package telemetry holds the observability stack: zerolog logging,
// OpenTelemetry tracing, Prometheus metrics, and an in-process event
// publisher. Configuration comes from an observability.yaml file; the
// defaults keep tracing and metrics off so the tool stays quiet unless
// asked otherwise.
//
// Typical wiring:
//
//	cfg, err := telemetry.LoadConfig("observability.yaml")
//	tel, err := telemetry.New(cfg)
//	defer tel.Shutdown(ctx)
//
//	eng := engine.New(provider, engineCfg).
//		WithMetrics(tel.Metrics).
//		WithTracer(tel.Tracer)
package telemetry
