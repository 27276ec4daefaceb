// Package redirect implements dynamic QR redirects: editable destinations
// that go terminal when disabled, expired or out of scans.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dharsanguruparan/qrdrop/internal/authz"
	"github.com/dharsanguruparan/qrdrop/internal/credential"
	"github.com/dharsanguruparan/qrdrop/internal/model"
	"github.com/dharsanguruparan/qrdrop/internal/safeurl"
	"github.com/dharsanguruparan/qrdrop/internal/shortcode"
)

// Store persists redirects.
type Store interface {
	// CreateRedirect inserts r, returning model.ErrDuplicateCode on collision.
	CreateRedirect(ctx context.Context, r *model.Redirect) error
	GetRedirect(ctx context.Context, code string) (*model.Redirect, error)
	// RecordScan adds exactly one scan while the redirect is active, not
	// expired at at, and under its scan ceiling. It returns the updated
	// record, or model.ErrInactive if any of those guards failed.
	RecordScan(ctx context.Context, code string, at time.Time) (*model.Redirect, error)
	// Deactivate sets is_active to false.
	Deactivate(ctx context.Context, code string) error
	// SaveRedirect persists the editable fields of r and returns the stored
	// record. is_active is written only when setActive is true.
	SaveRedirect(ctx context.Context, r *model.Redirect, setActive bool) (*model.Redirect, error)
}

// Service runs redirect transitions.
type Service struct {
	store Store
	now   func() time.Time
	gen   func() (string, error)
}

// New builds a Service.
func New(store Store) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		gen:   shortcode.Generate,
	}
}

// CreateRequest describes a new redirect.
type CreateRequest struct {
	DestinationURL string
	RoutingMode    model.RoutingMode
	RoutingConfig  *model.RoutingConfig
	MaxScans       *int
	ExpiresAt      *time.Time
	Password       string
}

// Created is returned once per redirect; OwnerToken is never shown again.
type Created struct {
	Redirect   *model.Redirect
	OwnerToken string
}

// Create validates req and persists an active redirect.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	now := s.now()
	r := &model.Redirect{
		DestinationURL: req.DestinationURL,
		RoutingMode:    req.RoutingMode,
		RoutingConfig:  req.RoutingConfig,
		MaxScans:       req.MaxScans,
		ExpiresAt:      req.ExpiresAt,
		IsActive:       true,
	}
	if r.RoutingMode == "" {
		r.RoutingMode = model.RoutingSimple
	}
	if err := validate(r); err != nil {
		return nil, err
	}
	if err := validateExpiry(r.ExpiresAt, now); err != nil {
		return nil, err
	}
	if req.Password != "" {
		h, err := credential.HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		r.PasswordHash = h
	}
	token := credential.NewOwnerToken()
	r.OwnerTokenHash = credential.HashOwnerToken(token)
	r.CreatedAt, r.LastAccessedAt = now, now

	_, err := shortcode.Allocate(ctx, s.gen, func(ctx context.Context, code string) error {
		r.Code = code
		return s.store.CreateRedirect(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("create redirect: %w", err)
	}
	return &Created{Redirect: r, OwnerToken: token}, nil
}

// Get returns the owner view with a valid token and the public view otherwise.
func (s *Service) Get(ctx context.Context, code string, creds authz.Credentials) (any, error) {
	r, err := s.store.GetRedirect(ctx, code)
	if err != nil {
		return nil, err
	}
	return authz.ViewRedirect(r, creds), nil
}

// Update is a partial edit. Nil fields are left unchanged.
type Update struct {
	DestinationURL *string
	RoutingMode    *model.RoutingMode
	RoutingConfig  *model.RoutingConfig
	ClearRouting   bool
	MaxScans       *int
	ClearMaxScans  bool
	ExpiresAt      *time.Time
	ClearExpiresAt bool
	IsActive       *bool
	// Password sets a new password; an empty string clears it.
	Password *string
}

// Update applies u after revalidating every URL in the result. It requires
// the owner token.
func (s *Service) Update(ctx context.Context, code string, creds authz.Credentials, u Update) (authz.RedirectView, error) {
	r, err := s.store.GetRedirect(ctx, code)
	if err != nil {
		return authz.RedirectView{}, err
	}
	if err := authz.Require(&r.Resource, creds, authz.Mutate); err != nil {
		return authz.RedirectView{}, err
	}
	next := *r
	if u.DestinationURL != nil {
		next.DestinationURL = *u.DestinationURL
	}
	if u.RoutingMode != nil {
		next.RoutingMode = *u.RoutingMode
	}
	switch {
	case u.ClearRouting:
		next.RoutingConfig = nil
	case u.RoutingConfig != nil:
		next.RoutingConfig = u.RoutingConfig
	}
	switch {
	case u.ClearMaxScans:
		next.MaxScans = nil
	case u.MaxScans != nil:
		next.MaxScans = u.MaxScans
	}
	switch {
	case u.ClearExpiresAt:
		next.ExpiresAt = nil
	case u.ExpiresAt != nil:
		next.ExpiresAt = u.ExpiresAt
	}
	if u.IsActive != nil {
		next.IsActive = *u.IsActive
	}
	if err := validate(&next); err != nil {
		return authz.RedirectView{}, err
	}
	if !u.ClearExpiresAt {
		if err := validateExpiry(u.ExpiresAt, s.now()); err != nil {
			return authz.RedirectView{}, err
		}
	}
	if u.Password != nil {
		next.PasswordHash = nil
		if *u.Password != "" {
			h, err := credential.HashPassword(*u.Password)
			if err != nil {
				return authz.RedirectView{}, err
			}
			next.PasswordHash = h
		}
	}
	saved, err := s.store.SaveRedirect(ctx, &next, u.IsActive != nil)
	if err != nil {
		return authz.RedirectView{}, err
	}
	return authz.OwnerRedirectView(saved), nil
}

// Disable turns the redirect off. It requires the owner token.
func (s *Service) Disable(ctx context.Context, code string, creds authz.Credentials) error {
	r, err := s.store.GetRedirect(ctx, code)
	if err != nil {
		return err
	}
	if err := authz.Require(&r.Resource, creds, authz.Mutate); err != nil {
		return err
	}
	return s.store.Deactivate(ctx, code)
}

// Outcome is how a scan ended.
type Outcome string

const (
	Redirected Outcome = "redirected"
	Inactive   Outcome = "inactive"
	Expired    Outcome = "expired"
	Exhausted  Outcome = "exhausted"
)

// Resolution is the result of one scan.
type Resolution struct {
	Outcome Outcome
	// URL is set only when Outcome is Redirected.
	URL       string
	ScanCount int
}

// Scan is what the scanner presented.
type Scan struct {
	Credentials authz.Credentials
	UserAgent   string
}

// Resolve runs the redirect state machine for one scan: inactive, then
// expiry, then scan ceiling, then password, then exactly one counted
// redirect. Nothing about the scanner is recorded.
func (s *Service) Resolve(ctx context.Context, code string, scan Scan) (Resolution, error) {
	r, err := s.store.GetRedirect(ctx, code)
	if err != nil {
		return Resolution{}, err
	}
	now := s.now()
	if out, terminal := s.terminal(ctx, r, now); terminal {
		return out, nil
	}
	if err := authz.Require(&r.Resource, scan.Credentials, authz.Read); err != nil {
		return Resolution{}, err
	}
	updated, err := s.store.RecordScan(ctx, code, now)
	if errors.Is(err, model.ErrInactive) {
		// Lost a race with another scan or an edit; re-read to report why.
		r, err = s.store.GetRedirect(ctx, code)
		if err != nil {
			return Resolution{}, err
		}
		if out, terminal := s.terminal(ctx, r, now); terminal {
			return out, nil
		}
		return Resolution{Outcome: Inactive, ScanCount: r.ScanCount}, nil
	}
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Outcome:   Redirected,
		URL:       destination(updated, updated.ScanCount, scan.UserAgent, now),
		ScanCount: updated.ScanCount,
	}, nil
}

// terminal applies checks 1-3 and persists any flip to inactive.
func (s *Service) terminal(ctx context.Context, r *model.Redirect, now time.Time) (Resolution, bool) {
	var out Outcome
	switch {
	case !r.IsActive:
		return Resolution{Outcome: Inactive, ScanCount: r.ScanCount}, true
	case r.Expired(now):
		out = Expired
	case r.Exhausted():
		out = Exhausted
	default:
		return Resolution{}, false
	}
	if err := s.store.Deactivate(ctx, r.Code); err != nil && !errors.Is(err, model.ErrNotFound) {
		log.Printf("deactivate redirect %s: %v", r.Code, err)
	}
	return Resolution{Outcome: out, ScanCount: r.ScanCount}, true
}

func validate(r *model.Redirect) error {
	if err := safeurl.Validate("destination_url", r.DestinationURL); err != nil {
		return err
	}
	if err := validateRouting(r.RoutingMode, r.RoutingConfig); err != nil {
		return err
	}
	if r.MaxScans != nil && *r.MaxScans < 1 {
		return model.Invalid("max_scans", "must be at least 1")
	}
	return nil
}

func validateExpiry(at *time.Time, now time.Time) error {
	if at != nil && !at.After(now) {
		return model.Invalid("expires_at", "must be in the future")
	}
	return nil
}
