package credential

import (
	"crypto/sha256"
	"strings"

	"github.com/google/uuid"
)

// OwnerTokenLen is the length of a raw owner token: a UUID without hyphens.
const OwnerTokenLen = 32

// OwnerTokenHash is the stored proof of an owner token.
type OwnerTokenHash interface {
	Verify(token string) bool
	String() string
}

// TokenDigest stores hex(SHA-256(token)). Tokens are 122 random bits, so no
// salt is applied.
type TokenDigest struct {
	Digest string
}

// LegacyToken is a record that stored the raw token verbatim.
type LegacyToken struct {
	Raw string
}

// NewOwnerToken returns a fresh 32 character lowercase hex token.
func NewOwnerToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HashOwnerToken returns the digest persisted for token.
func HashOwnerToken(token string) TokenDigest {
	return TokenDigest{Digest: sha256Hex(token)}
}

// ParseOwnerTokenHash picks the variant by length: 64 hex characters is a
// digest, 32 is a legacy raw token.
func ParseOwnerTokenHash(stored string) (OwnerTokenHash, error) {
	switch {
	case isHex(stored, sha256.Size*2):
		return TokenDigest{Digest: stored}, nil
	case isHex(stored, OwnerTokenLen):
		return LegacyToken{Raw: stored}, nil
	default:
		return nil, ErrInvalidHash
	}
}

func (d TokenDigest) Verify(token string) bool {
	if token == "" {
		return false
	}
	return equalHex(sha256Hex(token), d.Digest)
}

func (d TokenDigest) String() string {
	return d.Digest
}

func (l LegacyToken) Verify(token string) bool {
	if token == "" {
		return false
	}
	return equalHex(token, l.Raw)
}

func (l LegacyToken) String() string {
	return l.Raw
}
