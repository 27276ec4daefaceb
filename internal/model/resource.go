// Package model contains the resource types shared by the lifecycle services,
// the stores and the HTTP layer.
package model

import (
	"time"

	"github.com/dharsanguruparan/qrdrop/internal/credential"
)

// Resource holds the fields common to buckets and dynamic redirects.
type Resource struct {
	Code           string
	OwnerTokenHash credential.OwnerTokenHash
	// PasswordHash is nil when the resource is not password protected.
	PasswordHash   credential.PasswordHash
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// PasswordProtected reports whether a password gates reads.
func (r *Resource) PasswordProtected() bool {
	return r.PasswordHash != nil
}
