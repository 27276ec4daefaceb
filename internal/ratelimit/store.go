// Package ratelimit is a sliding-window limiter keyed by client identity and
// operation. Counting lives behind Store so a shared cache can replace the
// in-process map when several servers run side by side.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Window is the state of one key inside the current window.
type Window struct {
	Count int
	// Oldest is the earliest hit still inside the window; zero when Count is 0.
	Oldest time.Time
}

// Store counts hits per key.
type Store interface {
	// Get reports hits for key within window of now without recording one.
	Get(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)
	// Increment records a hit at now and returns the window including it.
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)
	// Expire drops every hit recorded before the given time.
	Expire(ctx context.Context, before time.Time) error
}

// MemoryStore keeps a log of hit times per key. State is lost on restart.
type MemoryStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hits: make(map[string][]time.Time)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trim(key, now.Add(-window)), nil
}

// Increment implements Store.
func (m *MemoryStore) Increment(_ context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trim(key, now.Add(-window))
	m.hits[key] = append(m.hits[key], now)
	hits := m.hits[key]
	return Window{Count: len(hits), Oldest: hits[0]}, nil
}

// Expire implements Store. Keys with no remaining hits are removed so idle
// clients do not accumulate.
func (m *MemoryStore) Expire(_ context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.hits {
		m.trim(key, before)
	}
	return nil
}

// Len reports how many keys are tracked.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

// trim drops hits at or before cutoff. Callers hold mu.
func (m *MemoryStore) trim(key string, cutoff time.Time) Window {
	hits := m.hits[key]
	i := sort.Search(len(hits), func(i int) bool { return hits[i].After(cutoff) })
	hits = hits[i:]
	if len(hits) == 0 {
		delete(m.hits, key)
		return Window{}
	}
	m.hits[key] = hits
	return Window{Count: len(hits), Oldest: hits[0]}
}
