package model

import (
	"time"
)

// BucketMode is derived from IsReusable/DeleteOnDownload.
type BucketMode string

const (
	// ModeSingleDrop deletes the bucket after its first download.
	ModeSingleDrop BucketMode = "single_drop"
	// ModePingPong clears content after each download and keeps the bucket.
	ModePingPong BucketMode = "ping_pong"
	// ModeOpen keeps content across downloads.
	ModeOpen BucketMode = "open"
)

// ParseBucketMode validates a client supplied mode. Empty means single drop.
func ParseBucketMode(s string) (BucketMode, error) {
	switch BucketMode(s) {
	case "":
		return ModeSingleDrop, nil
	case ModeSingleDrop, ModePingPong, ModeOpen:
		return BucketMode(s), nil
	default:
		return "", Invalid("mode", "must be one of single_drop, ping_pong, open")
	}
}

// ContentType is what a full bucket holds.
type ContentType string

const (
	ContentFile ContentType = "file"
	ContentText ContentType = "text"
	ContentLink ContentType = "link"
)

// ContentMetadata describes bucket content. Which fields are set depends on
// the content type.
type ContentMetadata struct {
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
	// StoragePath is the object key; never serialized.
	StoragePath string `json:"-"`
	Length      int    `json:"length,omitempty"`
	URL         string `json:"url,omitempty"`
	Preview     string `json:"preview,omitempty"`
}

// Bucket is a drop box addressed by a QR code.
type Bucket struct {
	Resource
	IsReusable       bool
	DeleteOnDownload bool
	IsEmpty          bool
	ContentType      ContentType
	// Content holds text or link payloads. File bytes live in the content store.
	Content         string
	ContentMetadata *ContentMetadata
	DownloadCount   int
	FilledAt        *time.Time
	LastEmptiedAt   *time.Time
}

// NewBucket returns an empty bucket configured for mode.
func NewBucket(mode BucketMode) *Bucket {
	b := &Bucket{IsEmpty: true}
	switch mode {
	case ModePingPong:
		b.IsReusable, b.DeleteOnDownload = true, true
	case ModeOpen:
		b.IsReusable = true
	}
	return b
}

// Mode maps the flag pair onto one of the three declared modes.
// DeleteOnDownload is ignored for single-drop buckets.
func (b *Bucket) Mode() BucketMode {
	switch {
	case !b.IsReusable:
		return ModeSingleDrop
	case b.DeleteOnDownload:
		return ModePingPong
	default:
		return ModeOpen
	}
}

// BucketContent is what an upload writes into an empty bucket.
type BucketContent struct {
	Type     ContentType
	Content  string
	Metadata ContentMetadata
}
