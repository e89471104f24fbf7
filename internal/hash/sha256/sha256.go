// Package sha256 provides SHA-256 digests for archive object names.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements tracker.Hasher using SHA-256, optionally truncating the
// hex digest to keep object names short.
type Hasher struct {
	length int
}

// New returns a SHA-256 hasher. A length <= 0 keeps the full 64-char digest.
func New(length int) *Hasher {
	return &Hasher{length: length}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.length > 0 && h.length < len(digest) {
		return digest[:h.length], nil
	}
	return digest, nil
}
