// Package repl implements the interactive mode of workingdb-cli.
//
// Each input line is split into arguments with redis-cli quoting rules
// and sent as one RESP command. Replies are printed the way redis-cli
// prints them. History is kept in ~/.workingdb/history.
package repl
