// Command workingdb-cli is the command-line client for workingdb.
//
// Usage:
//
//	workingdb-cli [global flags] <command> [args]
//	workingdb-cli                      # interactive mode
//
// Examples:
//
//	workingdb-cli set --ttl 10m session:1 token
//	workingdb-cli -o json stats
//	workingdb-cli log verify /var/lib/workingdb/wal
package main
