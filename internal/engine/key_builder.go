package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"alarmcore/internal/domain"
)

// BuildAlarmKey builds deterministic per-(rule, entity) key for downstream dedup and partitioning.
// Params: firing or recovery message.
// Returns: key in form alarm/<rule>/<scope>/<sha1(id0\nid1)>.
func BuildAlarmKey(msg domain.AlarmMessage) string {
	canonical := make([]byte, 0, len(msg.ID0)+len(msg.ID1)+1)
	canonical = append(canonical, msg.ID0...)
	canonical = append(canonical, '\n')
	canonical = append(canonical, msg.ID1...)
	digest := sha1.Sum(canonical)
	var hashValue [sha1.Size * 2]byte
	hex.Encode(hashValue[:], digest[:])

	ruleName := sanitize(msg.RuleName)
	scope := sanitize(string(msg.Scope))
	var builder strings.Builder
	builder.Grow(len("alarm/") + len(ruleName) + len(scope) + len(hashValue) + 2)
	builder.WriteString("alarm/")
	builder.WriteString(ruleName)
	builder.WriteByte('/')
	builder.WriteString(scope)
	builder.WriteByte('/')
	builder.Write(hashValue[:])
	return builder.String()
}

// sanitize converts key path fragments into stable bucket-safe tokens.
// Params: raw value with possible separators.
// Returns: sanitized string with unsupported chars replaced by underscore.
func sanitize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
