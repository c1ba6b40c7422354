package logger

import (
	"log/slog"
	"strings"
)

// Attribute names that may carry credentials or stored user data. Matching
// is by substring of the lowercased name.
var sensitiveKeyPatterns = []string{
	"password",
	"pass",
	"secret",
	"auth",
	"credential",
	"encryption_key",
	"value",
}

// redactedValue replaces a sensitive attribute value.
const redactedValue = "***REDACTED***"

// redactSensitive replaces non-empty values of sensitive attributes,
// descending into groups.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}

	if !IsSensitiveKey(a.Key) {
		return a
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindString && v.String() == "" {
		return a
	}
	return slog.String(a.Key, redactedValue)
}

// IsSensitiveKey reports whether an attribute name suggests sensitive
// content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
