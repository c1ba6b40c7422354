// Command workingdb-server runs the key-value store.
//
// It loads configuration from defaults, an optional YAML file and
// WORKINGDB_ environment variables, recovers the data directory and
// serves the enabled listeners:
//
//   - RESP (Redis clients)
//   - memcached text protocol
//   - a multiplexed port that sniffs either protocol
//   - a Unix socket for workingdb-cli
//   - the admin HTTP API with /metrics
//
// Usage:
//
//	workingdb-server --config /etc/workingdb/config.yaml
//	workingdb-server --data-dir /var/lib/workingdb --log-level debug
package main
