package helpers

import "strings"

// RedactionMarker replaces sensitive values in audit metadata.
const RedactionMarker = "[REDACTED]"

// sensitiveKeyFragments flags metadata keys whose values must never be
// persisted. Matching is case-insensitive and substring-based so variants
// like "passwordHash", "storedHash" or "apiKey" are caught too.
var sensitiveKeyFragments = []string{
	"password",
	"passwd",
	"hash",
	"secret",
	"token",
	"apikey",
	"api_key",
	"credential",
}

// RedactMetadata returns a copy of metadata with every sensitive value
// replaced by the redaction marker. The input map is never modified.
func RedactMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}

	redacted := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if IsSensitiveKey(key) {
			redacted[key] = RedactionMarker
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			redacted[key] = RedactMetadata(nested)
			continue
		}
		redacted[key] = value
	}
	return redacted
}

// IsSensitiveKey reports whether a metadata key looks credential-bearing.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
