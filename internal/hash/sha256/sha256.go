// Package sha256 derives stable identifiers from SHA-256 digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements job.Hasher using SHA-256. A positive length truncates the
// hex digest, which keeps job IDs short enough for file and log names.
type Hasher struct {
	length int
}

// New returns a hasher producing the full 64-character hex digest.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated returns a hasher producing the first n hex characters.
func NewTruncated(n int) *Hasher {
	if n < 0 {
		n = 0
	}
	return &Hasher{length: n}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.length > 0 && h.length < len(digest) {
		digest = digest[:h.length]
	}
	return digest, nil
}
