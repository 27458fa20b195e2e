// Package credential hashes and verifies per-object passwords. Hashes are
// salted bcrypt strings; plaintext never leaves this package.
package credential

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost matches the cost factor files have always been hashed with.
const DefaultCost = 12

// MaxPasswordBytes is bcrypt's input limit. Longer passwords are truncated
// identically when hashing and verifying.
const MaxPasswordBytes = 72

// ErrEmptyPassword is returned when asked to hash an empty string.
var ErrEmptyPassword = errors.New("empty password")

// Hasher hashes and verifies passwords with a fixed bcrypt cost.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher using cost, falling back to DefaultCost when cost
// is outside bcrypt's accepted range.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns a salted one-way hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	b, err := bcrypt.GenerateFromPassword(clip(plaintext), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether plaintext matches hash. The comparison inside bcrypt
// is constant time; malformed hashes never match.
func (h *Hasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), clip(plaintext)) == nil
}

func clip(plaintext string) []byte {
	b := []byte(plaintext)
	if len(b) > MaxPasswordBytes {
		b = b[:MaxPasswordBytes]
	}
	return b
}
