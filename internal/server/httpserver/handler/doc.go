// Package handler implements the admin HTTP endpoints.
//
//   - health.go: liveness and readiness
//   - keys.go: store statistics and debug key reads
//   - admin.go: snapshot and sweep triggers
//
// Every JSON reply uses the Response envelope; errors carry the domain
// error code in the body and in the X-Error-Code header.
package handler
