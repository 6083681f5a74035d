// Package observability provides metrics, structured logging and tracing for
// the agent runtime.
//
// # Metrics
//
// Metrics use the Prometheus client and track provider requests (latency,
// time to first token, token usage), tool executions, compression passes,
// approval outcomes, team auto-triggers and running loops. Register them on
// a dedicated registry in tests:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//
// # Logging
//
// Logger wraps slog with redaction of provider keys and secrets, and adds
// session_id, run_id and agent from the context to every record. Slog()
// exposes the same handler to components that take a *slog.Logger.
//
// # Tracing
//
// Tracer wraps OpenTelemetry. With no endpoint configured it is a no-op, and
// a nil *Tracer is also valid. Spans are opened per loop run, per provider
// request, per tool execution and per compression pass.
package observability
