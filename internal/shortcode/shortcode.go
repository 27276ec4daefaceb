// Package shortcode generates the public 6 character resource codes.
package shortcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/dharsanguruparan/qrdrop/internal/model"
)

const (
	// Length of every code.
	Length = 6
	// MaxAttempts bounds collision retries.
	MaxAttempts = 10
	alphabet    = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Generate returns a random lowercase alphanumeric code.
func Generate() (string, error) {
	buf := make([]byte, Length)
	size := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Valid reports whether s has the shape of a code.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// Allocate calls insert with fresh codes until it succeeds. insert must return
// model.ErrDuplicateCode on a collision; any other error aborts. After
// MaxAttempts collisions it gives up with model.ErrCodeSpaceExhausted.
func Allocate(ctx context.Context, gen func() (string, error), insert func(ctx context.Context, code string) error) (string, error) {
	if gen == nil {
		gen = Generate
	}
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		code, err := gen()
		if err != nil {
			return "", err
		}
		err = insert(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, model.ErrDuplicateCode) {
			return "", err
		}
	}
	return "", model.ErrCodeSpaceExhausted
}
