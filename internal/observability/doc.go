// Package observability wires the telemetry used by every runtime
// component: structured logging over log/slog, distributed tracing over
// OpenTelemetry with an OTLP exporter, and metrics exposed in Prometheus
// format.
//
// # Setup
//
//	obs, err := observability.New(observability.Config{
//		ServiceName:  "agentx",
//		OTLPEndpoint: "127.0.0.1:4317",
//		LogLevel:     "INFO",
//	})
//
// New installs global tracer and meter providers, builds the bridged slog
// logger, and returns a handle whose Shutdown flushes both providers.
//
// # Logging
//
// The Handler buffers records and stamps each with the active span's
// trace and span ids, so log lines correlate with traces without manual
// plumbing. A full buffer drops records instead of blocking the message
// plane; drops are counted in agentx_logs_dropped_total.
//
// # Tracing and metrics
//
// TraceManager and MetricsManager wrap the OTel APIs with the span names
// and instruments shared across the engine, bridge, and supervisor. The
// HealthServer serves /health, /ready, and /metrics for one component.
package observability
