package bucket

import (
	"context"
	"io"
	"time"

	"github.com/dharsanguruparan/qrdrop/internal/credential"
	"github.com/dharsanguruparan/qrdrop/internal/model"
)

// Store persists buckets. Every state transition is a single conditional
// operation so that concurrent requests cannot both observe and act on the
// same content.
type Store interface {
	// CreateBucket inserts b, returning model.ErrDuplicateCode if the code exists.
	CreateBucket(ctx context.Context, b *model.Bucket) error
	GetBucket(ctx context.Context, code string) (*model.Bucket, error)
	// FillBucket writes content only while the bucket is empty. It returns
	// model.ErrConflict if the bucket is full.
	FillBucket(ctx context.Context, code string, content model.BucketContent, at time.Time) (*model.Bucket, error)
	// ConsumeBucket claims the current content for one download and applies
	// the mode's transition (delete, clear or touch) atomically. The returned
	// snapshot carries the content as it was before the transition. It
	// returns model.ErrConflict if the bucket is empty and model.ErrNotFound
	// if it no longer exists.
	ConsumeBucket(ctx context.Context, code string, mode model.BucketMode, at time.Time) (*model.Bucket, error)
	// EmptyBucket clears content and returns the snapshot before clearing.
	EmptyBucket(ctx context.Context, code string, at time.Time) (*model.Bucket, error)
	// DeleteBucket removes the record and returns its last state.
	DeleteBucket(ctx context.Context, code string) (*model.Bucket, error)
	// SetBucketPassword replaces the password hash; nil removes protection.
	SetBucketPassword(ctx context.Context, code string, hash credential.PasswordHash) error
	// SweepBuckets deletes single-drop buckets created before cutoff and
	// clears reusable buckets whose content was filled before cutoff. It
	// returns snapshots of both sets taken before the change.
	SweepBuckets(ctx context.Context, cutoff, at time.Time) (cleared, deleted []*model.Bucket, err error)
}

// ContentStore holds file bytes for file buckets.
type ContentStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Purger removes stored objects once their bucket no longer references them.
// Implementations may defer the work.
type Purger interface {
	Purge(ctx context.Context, key string) error
}
