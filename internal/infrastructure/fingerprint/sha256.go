// Package fingerprint computes content-only artifact fingerprints for
// identity-based deduplication.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

const Algorithm = "sha256"

type SHA256 struct{}

func NewSHA256() *SHA256 {
	return &SHA256{}
}

// Fingerprint hashes the full content. Deterministic and independent of
// filename or path; the only failure mode is a read error.
func (*SHA256) Fingerprint(r io.Reader) (string, string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), Algorithm, nil
}
