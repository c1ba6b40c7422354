// Package command defines the workingdb-cli commands.
//
// Data commands (get, set, del, expire, persist, ttl, ping, info) speak
// RESP to the server; stats, key, health, snapshot and sweep use the HTTP
// admin API; log dump and log verify read write-log segments directly
// from disk. Running the binary without a command starts the REPL.
package command
