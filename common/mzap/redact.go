package mzap

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// sensitiveFieldNames are redacted from every log line regardless of level.
var sensitiveFieldNames = map[string]struct{}{
	"email":    {},
	"phone":    {},
	"ssn":      {},
	"password": {},
	"token":    {},
	"secret":   {},
}

const redactedPlaceholder = "[REDACTED]"

// isSensitiveField reports whether a structured field's key names a
// redacted field, matching case-insensitively and ignoring a "_"/"-"
// separated suffix (e.g. "user_email", "auth-token").
func isSensitiveField(key string) bool {
	key = strings.ToLower(key)
	if _, ok := sensitiveFieldNames[key]; ok {
		return true
	}

	for name := range sensitiveFieldNames {
		if strings.HasSuffix(key, "_"+name) || strings.HasSuffix(key, "-"+name) {
			return true
		}
	}

	return false
}

// redactCore wraps a zapcore.Core and replaces the value of any field whose
// key matches sensitiveFieldNames before it reaches the underlying encoder.
type redactCore struct {
	zapcore.Core
}

// newRedactCore wraps core so every entry passed through it has its
// sensitive fields scrubbed first.
func newRedactCore(core zapcore.Core) zapcore.Core {
	return &redactCore{Core: core}
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Core.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

func (c *redactCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))

	for i, f := range fields {
		if isSensitiveField(f.Key) {
			f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: redactedPlaceholder}
		}

		out[i] = f
	}

	return out
}
