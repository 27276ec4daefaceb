package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown codes and consumed single-drop buckets.
	ErrNotFound = errors.New("resource not found")
	// ErrUnauthorized means a read credential was missing or wrong.
	ErrUnauthorized = errors.New("invalid credentials")
	// ErrForbidden means a mutation was attempted without a valid owner token.
	ErrForbidden = errors.New("owner token required")
	// ErrConflict is a state conflict: upload to a full bucket, download from an empty one.
	ErrConflict = errors.New("resource state conflict")
	// ErrInactive marks a redirect that is disabled, expired or exhausted.
	ErrInactive = errors.New("resource inactive")
	// ErrDuplicateCode is returned by stores when a code is already taken.
	ErrDuplicateCode = errors.New("code already in use")
	// ErrCodeSpaceExhausted is returned when no free code was found.
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique code")
	// ErrInsecureCredentialChannel rejects passwords sent in a query string.
	ErrInsecureCredentialChannel = errors.New("credentials must be sent in the request body")
)

// ValidationError is returned when input is rejected before any state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
