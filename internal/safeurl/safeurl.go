// Package safeurl enforces the http/https whitelist for every URL a resource
// will send a browser to.
package safeurl

import (
	"net/url"
	"strings"

	"github.com/dharsanguruparan/qrdrop/internal/model"
)

// MaxLength caps stored URLs.
const MaxLength = 2048

// Validate returns a *model.ValidationError naming field unless raw is an
// absolute http or https URL with a host.
func Validate(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return model.Invalid(field, "is required")
	}
	if len(raw) > MaxLength {
		return model.Invalid(field, "must be at most %d characters", MaxLength)
	}
	if raw != strings.TrimSpace(raw) || strings.ContainsAny(raw, "\r\n\t") {
		return model.Invalid(field, "must not contain whitespace or control characters")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return model.Invalid(field, "must be an absolute http or https URL")
	}
	// url.Parse lowercases the scheme, so JAVASCRIPT: is caught here too.
	if u.Scheme != "http" && u.Scheme != "https" {
		return model.Invalid(field, "scheme %q is not allowed", u.Scheme)
	}
	if u.Host == "" {
		return model.Invalid(field, "must include a host")
	}
	return nil
}
