// Package connection provides the clients used by workingdb-cli: a RESP
// client over TCP or the local Unix socket, and an admin HTTP client.
package connection
