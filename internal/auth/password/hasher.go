// Package password hashes and verifies credentials with salted PBKDF2-HMAC-SHA256.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 round count used for every stored credential.
	DefaultIterations = 100_000
	// MinIterations is the lowest round count a Hasher accepts.
	MinIterations = 10_000
	// SaltSize is the number of random salt bytes generated per credential.
	SaltSize = 32
	// KeySize is the derived key length in bytes (SHA-256 output size).
	KeySize = sha256.Size
)

// Hasher derives and verifies PBKDF2-HMAC-SHA256 password hashes.
// Hash and salt are stored hex encoded in separate columns.
type Hasher struct {
	iterations int
}

// NewHasher returns a Hasher using the given round count, clamped to MinIterations.
func NewHasher(iterations int) *Hasher {
	if iterations < MinIterations {
		iterations = MinIterations
	}
	return &Hasher{iterations: iterations}
}

// Default returns a Hasher with DefaultIterations rounds.
func Default() *Hasher {
	return NewHasher(DefaultIterations)
}

// Hash derives a hash for password with a fresh random salt.
func (h *Hasher) Hash(password string) (hash, salt string, err error) {
	saltBytes := make([]byte, SaltSize)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), saltBytes, h.iterations, KeySize, sha256.New)
	return hex.EncodeToString(key), hex.EncodeToString(saltBytes), nil
}

// Verify reports whether password matches the stored hash and salt.
// Malformed hash or salt values never match.
func (h *Hasher) Verify(password, hash, salt string) bool {
	expected, err := hex.DecodeString(hash)
	if err != nil || len(expected) != KeySize {
		return false
	}
	saltBytes, err := hex.DecodeString(salt)
	if err != nil || len(saltBytes) == 0 {
		return false
	}

	key := pbkdf2.Key([]byte(password), saltBytes, h.iterations, KeySize, sha256.New)
	return subtle.ConstantTimeCompare(key, expected) == 1
}
