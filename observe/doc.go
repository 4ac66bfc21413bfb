// Package observe provides telemetry for the data-access layer.
//
// It exposes a structured Logger, a Metrics recorder for cache and
// backend activity, and an Observer that wires both plus tracing to
// OpenTelemetry providers with pluggable exporters.
package observe
