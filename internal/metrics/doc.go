/*
Package metrics registers the service's Prometheus metrics and records
them.

Collector groups counters and histograms for HTTP requests, model calls,
tool calls, orchestrator turns, cache lookups, rate limiting and database
connections. All metrics share one namespace. Collector satisfies the
orchestrator's Recorder interface.
*/
package metrics
