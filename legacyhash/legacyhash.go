// Package legacyhash verifies passwords against the hashing schemes used by
// historical generations of the game's account database. The upstream system
// went through more than one hashing era, so a stored hash can be any of:
//
//   - md5(password), lowercase hex
//   - sha256(username + fixed salt + password), lowercase hex
//   - the password itself, stored in the clear (never-migrated accounts)
//
// Verification tries caller-supplied algorithm hints first, then a fixed
// priority order, and reports which scheme matched so callers can tag the
// account for a forced hash upgrade on first successful login.
package legacyhash

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// sha256FixedSalt is the constant salt the second hashing era baked into the
// game server binaries. It is long but not secret; it never functioned as a
// security boundary in the legacy system either.
const sha256FixedSalt = "phoohie1yaihooyaequae7PuiWoeNgahjieth3ru3yeeghaepahb7aeYaipe2we6zii6mai6uweig8siasheinoungeoyeiLohShi2xoh2xi8ooxee9ahpiehahc9Phe"

// Algorithm identifies one legacy password hashing scheme.
type Algorithm int

const (
	AlgorithmUnknown Algorithm = iota
	AlgorithmMD5
	AlgorithmSHA256Salt
	AlgorithmPlaintext
)

// String returns the stable tag persisted on link records.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmMD5:
		return "md5"
	case AlgorithmSHA256Salt:
		return "sha256-salt"
	case AlgorithmPlaintext:
		return "plaintext"
	default:
		return "unknown"
	}
}

// ParseAlgorithm converts a stored tag back into an Algorithm.
func ParseAlgorithm(tag string) Algorithm {
	switch tag {
	case "md5":
		return AlgorithmMD5
	case "sha256-salt":
		return AlgorithmSHA256Salt
	case "plaintext":
		return AlgorithmPlaintext
	default:
		return AlgorithmUnknown
	}
}

// Description returns a human-readable description of the algorithm for
// operator-facing output.
func (a Algorithm) Description() string {
	switch a {
	case AlgorithmMD5:
		return "MD5 (insecure, legacy)"
	case AlgorithmSHA256Salt:
		return "SHA256 with fixed salt (insecure, legacy)"
	case AlgorithmPlaintext:
		return "Plaintext (critical security risk)"
	default:
		return "Unknown"
	}
}

// defaultOrder is the detection order when no hint matches, most likely
// scheme first.
var defaultOrder = []Algorithm{AlgorithmMD5, AlgorithmSHA256Salt, AlgorithmPlaintext}

// Result reports the outcome of a detection attempt.
type Result struct {
	Matched   bool
	Algorithm Algorithm
}

// HashMD5 computes the first-era hash: md5(password), lowercase hex.
func HashMD5(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// HashSHA256Salt computes the second-era hash:
// sha256(username + fixed salt + password), lowercase hex.
func HashSHA256Salt(username, password string) string {
	sum := sha256.Sum256([]byte(username + sha256FixedSalt + password))
	return hex.EncodeToString(sum[:])
}

// DetectAndVerify checks the candidate password against the stored hash,
// trying hints in order first and then the default scheme order. It
// short-circuits on the first match. Hex comparison is case-insensitive;
// the plaintext fallback compares the stored value exactly as written.
func DetectAndVerify(username, password, storedHash string, hints ...Algorithm) Result {
	normalized := strings.ToLower(storedHash)

	for _, algo := range hints {
		if tryAlgorithm(algo, username, password, storedHash, normalized) {
			return Result{Matched: true, Algorithm: algo}
		}
	}

	for _, algo := range defaultOrder {
		if tryAlgorithm(algo, username, password, storedHash, normalized) {
			return Result{Matched: true, Algorithm: algo}
		}
	}

	return Result{}
}

// Verify reports whether the password matches under any supported scheme.
func Verify(username, password, storedHash string) bool {
	return DetectAndVerify(username, password, storedHash).Matched
}

func tryAlgorithm(algo Algorithm, username, password, storedHash, normalizedHash string) bool {
	switch algo {
	case AlgorithmMD5:
		return HashMD5(password) == normalizedHash
	case AlgorithmSHA256Salt:
		return HashSHA256Salt(username, password) == normalizedHash
	case AlgorithmPlaintext:
		return password == storedHash
	default:
		return false
	}
}
