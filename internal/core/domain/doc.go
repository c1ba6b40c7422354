// Package domain defines the core data model of WorkingDB.
//
// Types here are plain values with no I/O dependencies:
//
//   - Entry: the value stored for one key, with flags, deadline and version
//   - Command / Result: the normalized request and reply exchanged between
//     protocol adapters and the command executor
//   - Limits: key and value ceilings shared by every protocol
//   - Errors: coded domain errors
package domain
