package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Class tells who is at fault for a coded error.
type Class uint8

const (
	// ClassUnknown is reported for errors that carry no code.
	ClassUnknown Class = iota
	// ClassData marks requests that fail again if retried unchanged.
	ClassData
	// ClassSystem marks failures of the store itself.
	ClassSystem
)

func (c Class) String() string {
	switch c {
	case ClassData:
		return "data"
	case ClassSystem:
		return "system"
	default:
		return "unknown"
	}
}

// DomainError is an error carrying a stable code that protocol adapters
// translate into their own reply vocabulary.
//
// Codes read WDB-<AREA>-<NNNN>. AREA is DATA or SYS, and the number
// follows HTTP-like classes (4xxx caller mistakes, 5xxx server failures).
type DomainError struct {
	Code    string
	Message string
	Details string
	Cause   error
}

// NewError returns a coded error without details or cause.
func NewError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func (e *DomainError) Error() string {
	if e.Details == "" {
		return "[" + e.Code + "] " + e.Message
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
}

func (e *DomainError) Unwrap() error { return e.Cause }

// Is matches any DomainError with the same code, so a sentinel matches
// every copy derived from it with WithDetails or WithCause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// Class derives the error class from the code's area segment.
func (e *DomainError) Class() Class {
	parts := strings.SplitN(e.Code, "-", 3)
	if len(parts) != 3 {
		return ClassUnknown
	}
	switch parts[1] {
	case "DATA":
		return ClassData
	case "SYS":
		return ClassSystem
	default:
		return ClassUnknown
	}
}

// Summary renders the code, message and details on one line without
// brackets, the form used in protocol error replies.
func (e *DomainError) Summary() string {
	s := e.Code + " " + e.Message
	if e.Details != "" {
		s += ": " + e.Details
	}
	return s
}

// WithDetails returns a copy of e with details replaced.
func (e *DomainError) WithDetails(details string) *DomainError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of e wrapping cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// CodeOf returns the code of the first DomainError in err's chain, or ""
// when there is none.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ClassOf returns the class of the first DomainError in err's chain.
func ClassOf(err error) Class {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Class()
	}
	return ClassUnknown
}

// Request errors.
var (
	ErrInvalidArgument = NewError("WDB-DATA-4001", "invalid argument")
	ErrKeyTooLarge     = NewError("WDB-DATA-4131", "key too large")
	ErrValueTooLarge   = NewError("WDB-DATA-4132", "value too large")
)

// Store errors.
var (
	// ErrLogWriteFailed means a record could not be made durable. The
	// mutation was not applied.
	ErrLogWriteFailed = NewError("WDB-SYS-5001", "write log append failed")

	// ErrLogCorrupt reports a checksum or sequence failure found while
	// reading the write log.
	ErrLogCorrupt = NewError("WDB-SYS-5002", "write log corrupt")

	// ErrUnavailable means mutations are refused, either because recovery
	// has not finished or because an earlier append failed.
	ErrUnavailable = NewError("WDB-SYS-5030", "store unavailable")

	// ErrShardUnavailable reports a shard index out of range.
	ErrShardUnavailable = NewError("WDB-SYS-5031", "shard unavailable")
)
