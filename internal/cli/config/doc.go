// Package config holds workingdb-cli settings.
//
// The file lives at ~/.workingdb/cli.yaml and stores named connection
// profiles plus the default output format:
//
//	output: table
//	current: local
//	profiles:
//	  local:
//	    server: 127.0.0.1:6379
//	    admin: 127.0.0.1:6380
//
// Command line flags override the active profile.
package config
