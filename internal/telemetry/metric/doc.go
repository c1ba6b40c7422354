// Package metric provides Prometheus metrics for WorkingDB.
//
// A Registry owns its own prometheus.Registry so tests and embedded
// servers do not collide on the default one. It implements the command
// observer interface of the executor and exposes hooks for the write log,
// the snapshot loop and the protocol listeners.
//
// Metrics are exposed at /metrics by the admin HTTP server.
package metric
