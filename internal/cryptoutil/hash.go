package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// ConstantTimeEqual compares two secrets without leaking where they differ.
// Length is not hidden.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Fingerprint returns the first n hex characters of the SHA-256 digest of s.
// n is clamped to 0..64.
func Fingerprint(s string, n int) string {
	full := SHA256Hex([]byte(s))
	switch {
	case n <= 0:
		return ""
	case n >= len(full):
		return full
	}
	return full[:n]
}
