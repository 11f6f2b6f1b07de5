// Package health accumulates rolling request statistics and recent error
// samples for the resilience layer.
//
// A Monitor is append-only and safe for concurrent use: RecordRequest and
// RecordError update running totals and a fixed-capacity ring buffer in
// constant time. Health derives a point-in-time snapshot: uptime, request
// totals, success rate, average response time, the recent-error list, active
// alerts, and a healthy/degraded/unhealthy classification driven by
// configurable thresholds plus the current circuit breaker states.
//
// The package also ships plain net/http handlers exposing the snapshot for
// liveness probes and status endpoints.
package health
