package legacyhash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashMD5KnownVector(t *testing.T) {
	// Well-known digest of the literal string "password".
	assert.Equal(t, "5f4dcc3b5aa765d61d8327deb882cf99", HashMD5("password"))
}

func TestHashSHA256SaltDeterministic(t *testing.T) {
	h1 := HashSHA256Salt("alice", "Secret123")
	h2 := HashSHA256Salt("alice", "Secret123")
	require.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.Equal(t, strings.ToLower(h1), h1, "hash must be lowercase hex")

	// Username participates in the digest, so the same password on a
	// different account hashes differently.
	assert.NotEqual(t, h1, HashSHA256Salt("bob", "Secret123"))
}

func TestDetectAndVerifyEachScheme(t *testing.T) {
	tests := []struct {
		name       string
		storedHash string
		want       Algorithm
	}{
		{"md5", HashMD5("Secret123"), AlgorithmMD5},
		{"sha256-salt", HashSHA256Salt("alice", "Secret123"), AlgorithmSHA256Salt},
		{"plaintext", "Secret123", AlgorithmPlaintext},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := DetectAndVerify("alice", "Secret123", tc.storedHash)
			require.True(t, res.Matched)
			assert.Equal(t, tc.want, res.Algorithm)
		})
	}
}

func TestDetectAndVerifyKnownMD5Vector(t *testing.T) {
	res := DetectAndVerify("anyuser", "password", "5f4dcc3b5aa765d61d8327deb882cf99")
	require.True(t, res.Matched)
	assert.Equal(t, AlgorithmMD5, res.Algorithm)
}

func TestDetectAndVerifyUppercaseStoredHash(t *testing.T) {
	stored := strings.ToUpper(HashMD5("Secret123"))
	res := DetectAndVerify("alice", "Secret123", stored)
	require.True(t, res.Matched)
	assert.Equal(t, AlgorithmMD5, res.Algorithm)
}

func TestDetectAndVerifyWrongPassword(t *testing.T) {
	for _, stored := range []string{
		HashMD5("Secret123"),
		HashSHA256Salt("alice", "Secret123"),
		"Secret123",
	} {
		res := DetectAndVerify("alice", "WrongPassword", stored)
		assert.False(t, res.Matched)
		assert.Equal(t, AlgorithmUnknown, res.Algorithm)
	}
}

func TestDetectAndVerifyHintsTriedFirst(t *testing.T) {
	// A password stored in the clear that happens to also be valid hex
	// would normally be tried as a digest first; an explicit hint skips
	// straight to the right scheme.
	stored := "Secret123"
	res := DetectAndVerify("alice", "Secret123", stored, AlgorithmPlaintext)
	require.True(t, res.Matched)
	assert.Equal(t, AlgorithmPlaintext, res.Algorithm)
}

func TestDetectAndVerifyBadHintFallsThrough(t *testing.T) {
	stored := HashSHA256Salt("alice", "Secret123")
	res := DetectAndVerify("alice", "Secret123", stored, AlgorithmMD5)
	require.True(t, res.Matched)
	assert.Equal(t, AlgorithmSHA256Salt, res.Algorithm)
}

func TestPlaintextComparisonIsCaseSensitive(t *testing.T) {
	// Only the hex digest comparison is case-insensitive; a plaintext
	// stored value must match the password byte for byte.
	res := DetectAndVerify("alice", "secret123", "Secret123")
	assert.False(t, res.Matched)
}

func TestAlgorithmTagRoundTrip(t *testing.T) {
	for _, algo := range []Algorithm{AlgorithmMD5, AlgorithmSHA256Salt, AlgorithmPlaintext} {
		assert.Equal(t, algo, ParseAlgorithm(algo.String()))
	}
	assert.Equal(t, AlgorithmUnknown, ParseAlgorithm("bcrypt"))
}
