// Package httpserver serves the admin API over HTTP.
//
// Routes:
//
//   - GET /health, GET /ready: liveness and recovery state
//   - GET /metrics: Prometheus exposition
//   - GET /v1/stats, GET /v1/keys/{key}: read-only views of the store
//   - POST /admin/v1/snapshot, POST /admin/v1/sweep: maintenance triggers
//
// Every response except /metrics uses the JSON envelope defined in the
// handler package.
package httpserver
