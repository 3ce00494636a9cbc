// Package api serves the read-only HTTP surface of `warden watch`.
//
// # Endpoints
//
//   - GET /metrics: Prometheus metrics
//   - GET /api/status: liveness, version and uptime
//   - GET /api/health, GET /readyz: source health checks
//   - GET /api/ports: consolidated open ports
//   - GET /api/ports/rejects: applied and suggested reject rules
//   - GET /api/exposure: socket verdicts
//   - GET /api/stats/{kind}: cached statistics for traffic, connections or zones
//
// Every handler reads through the monitor service, so stats responses come
// from the same cache the background poller keeps warm.
package api
