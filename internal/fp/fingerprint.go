package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeSource trims surrounding whitespace. Further normalization rules
// (e.g., URL normalization) can be added later as needed.
func NormalizeSource(s string) string {
	return strings.TrimSpace(s)
}

// Fingerprint computes a stable hex-encoded SHA-256 over the normalized
// source URL. The transport uses it to name staging files so a resumed
// transfer finds the bytes a previous attempt already received.
func Fingerprint(source string) string {
	h := sha256.Sum256([]byte(NormalizeSource(source)))
	return hex.EncodeToString(h[:])
}
