package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// window is the counter for one endpoint:identity key.
type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps windows in process memory.
// Windows are only reclaimed by Cleanup; call it periodically.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Increment implements Store.
func (m *MemoryStore) Increment(_ context.Context, key string, win time.Duration, now time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(win)}
		m.windows[key] = w
		return w.count, w.resetAt, nil
	}

	w.count++
	return w.count, w.resetAt, nil
}

// Cleanup removes windows that have reset and returns how many were removed.
func (m *MemoryStore) Cleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

// Stats is a summary of live windows.
type Stats struct {
	TotalEntries int            `json:"totalEntries"`
	ByEndpoint   map[string]int `json:"byEndpoint"`
}

// Stats counts live windows per endpoint.
func (m *MemoryStore) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalEntries: len(m.windows),
		ByEndpoint:   make(map[string]int),
	}
	for key := range m.windows {
		endpoint, _, _ := strings.Cut(key, ":")
		stats.ByEndpoint[endpoint]++
	}
	return stats
}
