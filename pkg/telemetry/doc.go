// Package telemetry provides the observability stack for hostvault:
// structured logging via zerolog, Prometheus metrics for resolution
// runs, and OpenTelemetry tracing with a stdout exporter for local
// debugging.
package telemetry
