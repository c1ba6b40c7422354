// Package config defines the workingdb-server configuration.
//
//   - spec.go: ServerConfig and its sections
//   - default.go: default values
//   - verify.go: range and consistency checks
//   - sanitize.go: secret masking for logs
//
// Values are loaded by internal/infra/confloader from defaults, an optional
// YAML file and WORKINGDB_ prefixed environment variables.
package config
