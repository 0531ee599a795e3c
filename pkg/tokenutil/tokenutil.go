// Package tokenutil generates opaque bearer secrets and hashes token values
// for storage and lookup. Raw tokens are never persisted; only their SHA-256
// hex digest is.
package tokenutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DefaultLength is the number of random bytes in a generated secret.
const DefaultLength = 32

// Generate returns a random hex secret of DefaultLength bytes and its hash.
func Generate() (token, hash string, err error) {
	buf := make([]byte, DefaultLength)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate random token: %w", err)
	}
	token = hex.EncodeToString(buf)
	return token, Hash(token), nil
}

// Hash returns the SHA-256 hex digest of token.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
