// Package credential implements the stored secret formats for resource
// passwords and owner tokens. Stored strings are parsed once into a tagged
// variant; verification dispatches on the variant.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const saltLen = 16

// ErrInvalidHash is returned when a stored value matches no known format.
var ErrInvalidHash = errors.New("invalid credential hash")

// PasswordHash is a stored resource password in one of its persisted forms.
type PasswordHash interface {
	Verify(candidate string) bool
	// String returns the persisted representation.
	String() string
}

// SaltedHash is the current format: hex(salt) ":" hex(SHA-256(hex(salt) + password)).
type SaltedHash struct {
	Salt   string
	Digest string
}

// LegacyHash is an unsalted hex SHA-256 of the password.
type LegacyHash struct {
	Digest string
}

// HashPassword salts and hashes a password with 16 random bytes.
func HashPassword(password string) (SaltedHash, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return SaltedHash{}, fmt.Errorf("generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	return SaltedHash{Salt: saltHex, Digest: sha256Hex(saltHex + password)}, nil
}

// ParsePasswordHash decodes a stored password hash.
func ParsePasswordHash(stored string) (PasswordHash, error) {
	if salt, digest, ok := strings.Cut(stored, ":"); ok {
		if !isHex(salt, saltLen*2) || !isHex(digest, sha256.Size*2) {
			return nil, ErrInvalidHash
		}
		return SaltedHash{Salt: salt, Digest: digest}, nil
	}
	if !isHex(stored, sha256.Size*2) {
		return nil, ErrInvalidHash
	}
	return LegacyHash{Digest: stored}, nil
}

func (h SaltedHash) Verify(candidate string) bool {
	return equalHex(sha256Hex(h.Salt+candidate), h.Digest)
}

func (h SaltedHash) String() string {
	return h.Salt + ":" + h.Digest
}

func (h LegacyHash) Verify(candidate string) bool {
	return equalHex(sha256Hex(candidate), h.Digest)
}

func (h LegacyHash) String() string {
	return h.Digest
}

func sha256Hex(in string) string {
	sum := sha256.Sum256([]byte(in))
	return hex.EncodeToString(sum[:])
}

// equalHex compares case-insensitively in constant time for equal lengths.
func equalHex(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(a)), []byte(strings.ToLower(b))) == 1
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
