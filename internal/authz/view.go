package authz

import (
	"time"

	"github.com/dharsanguruparan/qrdrop/internal/model"
)

// BucketView is the JSON shape of bucket status. ContentType and
// ContentMetadata are nil when the caller is not authorized to read a
// password protected bucket; state fields are always present.
type BucketView struct {
	Code              string                 `json:"code"`
	Mode              model.BucketMode       `json:"mode"`
	IsEmpty           bool                   `json:"is_empty"`
	IsReusable        bool                   `json:"is_reusable"`
	DeleteOnDownload  bool                   `json:"delete_on_download"`
	PasswordProtected bool                   `json:"password_protected"`
	ContentType       *model.ContentType     `json:"content_type"`
	ContentMetadata   *model.ContentMetadata `json:"content_metadata"`
	DownloadCount     int                    `json:"download_count"`
	CreatedAt         time.Time              `json:"created_at"`
	LastAccessedAt    time.Time              `json:"last_accessed_at"`
	LastEmptiedAt     *time.Time             `json:"last_emptied_at,omitempty"`
}

// ViewBucket renders b for a caller holding creds.
func ViewBucket(b *model.Bucket, creds Credentials) BucketView {
	v := BucketView{
		Code:              b.Code,
		Mode:              b.Mode(),
		IsEmpty:           b.IsEmpty,
		IsReusable:        b.IsReusable,
		DeleteOnDownload:  b.IsReusable && b.DeleteOnDownload,
		PasswordProtected: b.PasswordProtected(),
		DownloadCount:     b.DownloadCount,
		CreatedAt:         b.CreatedAt,
		LastAccessedAt:    b.LastAccessedAt,
		LastEmptiedAt:     b.LastEmptiedAt,
	}
	if Check(&b.Resource, creds, Read) != Authorized {
		return v
	}
	if !b.IsEmpty && b.ContentType != "" {
		ct := b.ContentType
		v.ContentType = &ct
	}
	if b.ContentMetadata != nil {
		md := *b.ContentMetadata
		v.ContentMetadata = &md
	}
	return v
}

// RedirectView is the owner's view of a redirect.
type RedirectView struct {
	Code              string               `json:"code"`
	DestinationURL    string               `json:"destination_url"`
	RoutingMode       model.RoutingMode    `json:"routing_mode"`
	RoutingConfig     *model.RoutingConfig `json:"routing_config"`
	MaxScans          *int                 `json:"max_scans"`
	ScanCount         int                  `json:"scan_count"`
	ExpiresAt         *time.Time           `json:"expires_at"`
	IsActive          bool                 `json:"is_active"`
	PasswordProtected bool                 `json:"password_protected"`
	CreatedAt         time.Time            `json:"created_at"`
	LastAccessedAt    time.Time            `json:"last_accessed_at"`
}

// PublicRedirectView is all a non-owner learns about a redirect.
type PublicRedirectView struct {
	Code              string `json:"code"`
	IsActive          bool   `json:"is_active"`
	PasswordProtected bool   `json:"password_protected"`
}

// ViewRedirect returns a RedirectView for owners and a PublicRedirectView
// for everyone else.
func ViewRedirect(r *model.Redirect, creds Credentials) any {
	if !IsOwner(&r.Resource, creds) {
		return PublicRedirectView{Code: r.Code, IsActive: r.IsActive, PasswordProtected: r.PasswordProtected()}
	}
	return OwnerRedirectView(r)
}

// OwnerRedirectView renders every field except the stored hashes.
func OwnerRedirectView(r *model.Redirect) RedirectView {
	mode := r.RoutingMode
	if mode == "" {
		mode = model.RoutingSimple
	}
	return RedirectView{
		Code:              r.Code,
		DestinationURL:    r.DestinationURL,
		RoutingMode:       mode,
		RoutingConfig:     r.RoutingConfig,
		MaxScans:          r.MaxScans,
		ScanCount:         r.ScanCount,
		ExpiresAt:         r.ExpiresAt,
		IsActive:          r.IsActive,
		PasswordProtected: r.PasswordProtected(),
		CreatedAt:         r.CreatedAt,
		LastAccessedAt:    r.LastAccessedAt,
	}
}
