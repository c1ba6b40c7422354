// Package logger builds the process logger on top of log/slog.
//
//   - logger.go: handler construction, output selection and the runtime
//     adjustable level
//   - context.go: request and connection ids carried in a context
//   - redact.go: masking of attributes that may hold secrets or user data
//
// Components receive a *slog.Logger through their options and never
// construct handlers themselves.
package logger
