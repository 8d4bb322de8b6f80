package mzap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestIsSensitiveField(t *testing.T) {
	cases := map[string]bool{
		"email":       true,
		"Email":       true,
		"PASSWORD":    true,
		"token":       true,
		"secret":      true,
		"ssn":         true,
		"phone":       true,
		"user_email":  true,
		"auth-token":  true,
		"account_id":  false,
		"currency":    false,
		"amount":      false,
		"description": false,
	}

	for key, want := range cases {
		assert.Equal(t, want, isSensitiveField(key), key)
	}
}

func TestRedactFields_ReplacesSensitiveValues(t *testing.T) {
	fields := []zapcore.Field{
		zapcore.Field{Key: "email", Type: zapcore.StringType, String: "alice@example.com"},
		zapcore.Field{Key: "amount", Type: zapcore.Int64Type, Integer: 1000},
	}

	out := redactFields(fields)

	redacted := out[0]
	assert.Equal(t, redactedPlaceholder, redacted.String)
	assert.Equal(t, zapcore.StringType, redacted.Type)

	assert.Equal(t, int64(1000), out[1].Integer, "non-sensitive fields pass through unchanged")
}

func TestRedactFields_DoesNotMutateInput(t *testing.T) {
	original := []zapcore.Field{{Key: "token", Type: zapcore.StringType, String: "abc123"}}

	out := redactFields(original)

	assert.Equal(t, "abc123", original[0].String, "redactFields must not mutate the caller's slice")
	assert.Equal(t, redactedPlaceholder, out[0].String)
}

func TestNewRedactCore_WithPropagatesRedaction(t *testing.T) {
	core := newRedactCore(zapcore.NewNopCore())

	wrapped := core.With([]zapcore.Field{{Key: "secret", Type: zapcore.StringType, String: "shh"}})

	_, ok := wrapped.(*redactCore)
	assert.True(t, ok, "With must return another redactCore, not the bare underlying core")
}
