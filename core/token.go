package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// TokenByteLength is the number of random bytes in a token value.
// 32 bytes (256 bits) hex-encoded yields a 64-character credential.
const TokenByteLength = 32

// Token is the per-client anti-forgery credential. At most one live token
// exists per client; rotation replaces the value and expiration in place.
type Token struct {
	Client     string    `json:"client"`
	Token      string    `json:"token"`
	Expiration time.Time `json:"expiration"`
}

// Expired reports whether the token is past its expiration at the given instant.
func (t *Token) Expired(now time.Time) bool {
	return !t.Expiration.After(now)
}

// TokenGenerator produces token values. Implementations must be safe for
// concurrent use. Tests inject a fixed-sequence generator instead of patching
// process-wide randomness.
type TokenGenerator interface {
	GenerateToken() (string, error)
}

// RandomTokenGenerator draws token values from crypto/rand, hex encoded.
type RandomTokenGenerator struct{}

// GenerateToken returns a fresh 256-bit random token value.
func (RandomTokenGenerator) GenerateToken() (string, error) {
	bytes := make([]byte, TokenByteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
