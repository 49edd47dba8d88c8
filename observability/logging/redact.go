package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of any attribute whose key looks like a
// credential.
const RedactedValue = "[REDACTED]"

// sensitiveFragments are matched case-insensitively against attribute keys.
var sensitiveFragments = []string{
	"secret",
	"token",
	"authorization",
	"password",
	"passphrase",
	"signature",
	"apikey",
}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "_", ""))
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// MaskValue returns RedactedValue for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a string attribute, masking the value when the key is
// sensitive.
func MaskField(key, value string) slog.Attr {
	if IsSensitive(key) {
		return slog.String(key, MaskValue(value))
	}
	return slog.String(key, value)
}

// redact masks sensitive attributes on their way through the handler so a
// stray logger.Info("...", "token", raw) never reaches the sink.
func redact(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
