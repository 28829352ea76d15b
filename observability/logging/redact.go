package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Keys whose values never reach a log line: coprocessor material, plaintext
// quantities and operator secrets. Matching is on the lowercased key and on
// any key ending in one of these words after a separator.
var sensitiveKeys = map[string]struct{}{
	"handle":     {},
	"ciphertext": {},
	"proof":      {},
	"signature":  {},
	"amount":     {},
	"value":      {},
	"balance":    {},
	"secret":     {},
	"passphrase": {},
	"payload":    {},
}

// IsSensitive reports whether key names a field that must be redacted.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if _, ok := sensitiveKeys[normalized]; ok {
		return true
	}
	if idx := strings.LastIndexAny(normalized, "._-"); idx >= 0 {
		_, ok := sensitiveKeys[normalized[idx+1:]]
		return ok
	}
	return false
}

// redactAttr masks sensitive keys; groups are walked so nested attributes
// are covered too.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		members := attr.Value.Group()
		out := make([]any, 0, len(members))
		for _, m := range members {
			out = append(out, redactAttr(m))
		}
		return slog.Group(attr.Key, out...)
	}
	if IsSensitive(attr.Key) {
		return slog.String(attr.Key, RedactedValue)
	}
	return attr
}
