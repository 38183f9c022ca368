// Package telemetry sets up the OpenTelemetry trace and metric providers.
// When telemetry is disabled the global providers stay noop and no
// exporter connects anywhere.
package telemetry
