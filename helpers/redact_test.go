package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactMetadata(t *testing.T) {
	metadata := map[string]any{
		"server_id":    "srv-1",
		"password":     "Secret123",
		"passwordHash": "5f4dcc3b",
		"storedHash":   "abc",
		"reason":       "invalid_password",
	}

	redacted := RedactMetadata(metadata)

	assert.Equal(t, "srv-1", redacted["server_id"])
	assert.Equal(t, "invalid_password", redacted["reason"])
	assert.Equal(t, RedactionMarker, redacted["password"])
	assert.Equal(t, RedactionMarker, redacted["passwordHash"])
	assert.Equal(t, RedactionMarker, redacted["storedHash"])

	// The input map must be untouched.
	assert.Equal(t, "Secret123", metadata["password"])
}

func TestRedactMetadataNested(t *testing.T) {
	metadata := map[string]any{
		"attempt": map[string]any{
			"username": "alice",
			"api_key":  "k-123",
		},
	}

	redacted := RedactMetadata(metadata)
	nested := redacted["attempt"].(map[string]any)
	assert.Equal(t, "alice", nested["username"])
	assert.Equal(t, RedactionMarker, nested["api_key"])
}

func TestRedactMetadataNil(t *testing.T) {
	assert.Nil(t, RedactMetadata(nil))
}

func TestIsSensitiveKey(t *testing.T) {
	sensitive := []string{"password", "PASSWD", "legacyHash", "clientSecret", "auth_token", "apiKey", "ro_credential"}
	for _, key := range sensitive {
		assert.True(t, IsSensitiveKey(key), key)
	}

	benign := []string{"server_id", "username", "reason", "reset_at"}
	for _, key := range benign {
		assert.False(t, IsSensitiveKey(key), key)
	}
}
