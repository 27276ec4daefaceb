// Package authz is the single choke point that decides whether a presented
// credential may mutate a resource or see its content.
package authz

import (
	"github.com/dharsanguruparan/qrdrop/internal/model"
)

// Verdict is the outcome of a check.
type Verdict int

const (
	Denied Verdict = iota
	Authorized
)

func (v Verdict) String() string {
	if v == Authorized {
		return "authorized"
	}
	return "denied"
}

// Action is the kind of access being requested.
type Action int

const (
	// Mutate covers upload, settings updates, empty, delete and disable.
	Mutate Action = iota
	// Read covers downloads, redirect resolution and full metadata disclosure.
	Read
)

// Credentials is what a request presented. Either field may be empty.
type Credentials struct {
	OwnerToken string
	Password   string
}

// Check evaluates creds against res for action. It never mutates res.
//
// Mutations require the owner token; no password path grants them. Reads of a
// password protected resource accept the password or the owner token. Reads
// of unprotected resources are always authorized.
func Check(res *model.Resource, creds Credentials, action Action) Verdict {
	if res == nil {
		return Denied
	}
	owner := creds.OwnerToken != "" && res.OwnerTokenHash != nil && res.OwnerTokenHash.Verify(creds.OwnerToken)
	switch action {
	case Mutate:
		if owner {
			return Authorized
		}
		return Denied
	case Read:
		if !res.PasswordProtected() || owner {
			return Authorized
		}
		if creds.Password != "" && res.PasswordHash.Verify(creds.Password) {
			return Authorized
		}
		return Denied
	default:
		return Denied
	}
}

// Require is Check returning the matching sentinel error on denial:
// model.ErrForbidden for mutations, model.ErrUnauthorized for reads.
func Require(res *model.Resource, creds Credentials, action Action) error {
	if Check(res, creds, action) == Authorized {
		return nil
	}
	if action == Mutate {
		return model.ErrForbidden
	}
	return model.ErrUnauthorized
}

// IsOwner reports whether creds carry a valid owner token for res.
func IsOwner(res *model.Resource, creds Credentials) bool {
	return Check(res, creds, Mutate) == Authorized
}
