// Package memcached serves the store over the memcached text protocol.
//
// Supported commands: get, gets, set, add, replace, cas, delete, touch,
// version, stats, verbosity and quit. Item flags are stored with the
// value; the cas unique is the entry version.
package memcached
