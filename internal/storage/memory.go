// Package storage contains the in-memory persistence layer used for local
// development and tests. It honours the same atomic transition contracts as
// the Postgres repository.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dharsanguruparan/qrdrop/internal/credential"
	"github.com/dharsanguruparan/qrdrop/internal/model"
)

// MemoryStore keeps buckets and redirects in maps guarded by one RWMutex.
// Every transition runs under the write lock, so check and act never
// interleave between goroutines.
type MemoryStore struct {
	mu        sync.RWMutex
	buckets   map[string]*model.Bucket
	redirects map[string]*model.Redirect
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:   make(map[string]*model.Bucket),
		redirects: make(map[string]*model.Redirect),
	}
}

// CreateBucket inserts a copy of b.
func (m *MemoryStore) CreateBucket(_ context.Context, b *model.Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[b.Code]; ok {
		return model.ErrDuplicateCode
	}
	m.buckets[b.Code] = copyBucket(b)
	return nil
}

// GetBucket returns a copy of the bucket.
func (m *MemoryStore) GetBucket(_ context.Context, code string) (*model.Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	return copyBucket(b), nil
}

// FillBucket writes content into an empty bucket.
func (m *MemoryStore) FillBucket(_ context.Context, code string, content model.BucketContent, at time.Time) (*model.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	if !b.IsEmpty {
		return nil, model.ErrConflict
	}
	md := content.Metadata
	b.IsEmpty = false
	b.ContentType = content.Type
	b.Content = content.Content
	b.ContentMetadata = &md
	b.FilledAt = &at
	b.LastAccessedAt = at
	return copyBucket(b), nil
}

// ConsumeBucket claims the content for one download.
func (m *MemoryStore) ConsumeBucket(_ context.Context, code string, mode model.BucketMode, at time.Time) (*model.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	if b.IsEmpty {
		return nil, model.ErrConflict
	}
	snapshot := copyBucket(b)
	switch mode {
	case model.ModeSingleDrop:
		delete(m.buckets, code)
	case model.ModePingPong:
		clearContent(b)
		b.LastEmptiedAt = &at
		b.DownloadCount++
		b.LastAccessedAt = at
	default:
		b.DownloadCount++
		b.LastAccessedAt = at
	}
	return snapshot, nil
}

// EmptyBucket clears content without counting a download.
func (m *MemoryStore) EmptyBucket(_ context.Context, code string, at time.Time) (*model.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	if b.IsEmpty {
		return nil, model.ErrConflict
	}
	snapshot := copyBucket(b)
	clearContent(b)
	b.LastEmptiedAt = &at
	b.LastAccessedAt = at
	return snapshot, nil
}

// DeleteBucket removes the bucket.
func (m *MemoryStore) DeleteBucket(_ context.Context, code string) (*model.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	delete(m.buckets, code)
	return b, nil
}

// SetBucketPassword replaces the password hash.
func (m *MemoryStore) SetBucketPassword(_ context.Context, code string, hash credential.PasswordHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[code]
	if !ok {
		return model.ErrNotFound
	}
	b.PasswordHash = hash
	return nil
}

// SweepBuckets applies the retention policy.
func (m *MemoryStore) SweepBuckets(_ context.Context, cutoff, at time.Time) (cleared, deleted []*model.Bucket, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for code, b := range m.buckets {
		switch {
		case !b.IsReusable && b.CreatedAt.Before(cutoff):
			deleted = append(deleted, b)
			delete(m.buckets, code)
		case b.IsReusable && !b.IsEmpty && b.FilledAt != nil && b.FilledAt.Before(cutoff):
			cleared = append(cleared, copyBucket(b))
			clearContent(b)
			b.LastEmptiedAt = &at
		}
	}
	return cleared, deleted, nil
}

// CreateRedirect inserts a copy of r.
func (m *MemoryStore) CreateRedirect(_ context.Context, r *model.Redirect) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.redirects[r.Code]; ok {
		return model.ErrDuplicateCode
	}
	m.redirects[r.Code] = copyRedirect(r)
	return nil
}

// GetRedirect returns a copy of the redirect.
func (m *MemoryStore) GetRedirect(_ context.Context, code string) (*model.Redirect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.redirects[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	return copyRedirect(r), nil
}

// RecordScan counts one scan if every guard still holds.
func (m *MemoryStore) RecordScan(_ context.Context, code string, at time.Time) (*model.Redirect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.redirects[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	if !r.IsActive || r.Expired(at) || r.Exhausted() {
		return nil, model.ErrInactive
	}
	r.ScanCount++
	r.LastAccessedAt = at
	return copyRedirect(r), nil
}

// Deactivate turns the redirect off.
func (m *MemoryStore) Deactivate(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.redirects[code]
	if !ok {
		return model.ErrNotFound
	}
	r.IsActive = false
	return nil
}

// SaveRedirect stores the editable fields of r and returns the stored record.
// The scan counter is left alone so concurrent scans are not lost, and
// is_active is written only when setActive is true so a concurrent
// deactivation is not undone.
func (m *MemoryStore) SaveRedirect(_ context.Context, r *model.Redirect, setActive bool) (*model.Redirect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.redirects[r.Code]
	if !ok {
		return nil, model.ErrNotFound
	}
	next := copyRedirect(r)
	next.ScanCount = cur.ScanCount
	next.CreatedAt = cur.CreatedAt
	next.LastAccessedAt = cur.LastAccessedAt
	next.OwnerTokenHash = cur.OwnerTokenHash
	if !setActive {
		next.IsActive = cur.IsActive
	}
	m.redirects[r.Code] = next
	return copyRedirect(next), nil
}

func clearContent(b *model.Bucket) {
	b.IsEmpty = true
	b.ContentType = ""
	b.Content = ""
	b.ContentMetadata = nil
	b.FilledAt = nil
}

func copyBucket(b *model.Bucket) *model.Bucket {
	c := *b
	if b.ContentMetadata != nil {
		md := *b.ContentMetadata
		c.ContentMetadata = &md
	}
	return &c
}

func copyRedirect(r *model.Redirect) *model.Redirect {
	c := *r
	if r.MaxScans != nil {
		n := *r.MaxScans
		c.MaxScans = &n
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	if r.RoutingConfig != nil {
		cfg := *r.RoutingConfig
		cfg.URLs = append([]string(nil), r.RoutingConfig.URLs...)
		cfg.Rules = append([]model.TimeRule(nil), r.RoutingConfig.Rules...)
		c.RoutingConfig = &cfg
	}
	return &c
}
