// Package cache implements the bounded in-memory TTL stores that sit in front of
// the upstream emergency-medicine API.
//
// Each data family (bed info, hospital list, messages, ...) owns one Store with its
// own capacity and TTL. Stores hold already-rendered response bodies so a cache hit
// never touches the upstream or the normalizer.
//
// Design Notes:
//   - Eviction is by insertion order: when a new key arrives at capacity, the key that
//     was inserted first goes, regardless of how often it was read.
//   - Expiry is lazy on Get plus a periodic Cleanup sweep; an entry whose expiry
//     instant is <= now is treated as absent.
//   - Overwriting an existing key refreshes its value and expiry but keeps its
//     original position in the eviction order.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// entry is a single cached value. Owned exclusively by its Store.
type entry struct {
	key       string
	value     []byte
	createdAt time.Time
	expiresAt time.Time
	element   *list.Element // position in insertion order
}

// Stats tracks store counters. All counters are monotonic.
type Stats struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Sets      atomic.Int64
	Evictions atomic.Int64
}

// Snapshot is a point-in-time copy of a store's state for status endpoints.
type Snapshot struct {
	Name      string  `json:"name"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"maxSize"`
	TTLMillis int64   `json:"ttlMs"`
	HitRate   float64 `json:"hitRate"`
}

// Store is a thread-safe TTL cache bounded at maxSize entries.
type Store struct {
	name    string
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = oldest insertion
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	stats   Stats
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store holding at most maxSize entries, each living ttl by default.
func NewStore(name string, maxSize int, ttl time.Duration, opts ...Option) *Store {
	if maxSize <= 0 {
		maxSize = 1
	}
	s := &Store{
		name:    name,
		entries: make(map[string]*entry, maxSize),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the family name the store was registered under.
func (s *Store) Name() string {
	return s.name
}

// TTL returns the default entry lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the cached value for key. Expired entries are deleted and reported as a miss.
// Complexity: O(1).
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.stats.Misses.Add(1)
		return nil, false
	}

	if !s.now().Before(e.expiresAt) {
		s.deleteLocked(key)
		s.stats.Misses.Add(1)
		return nil, false
	}

	s.stats.Hits.Add(1)
	return e.value, true
}

// Contains reports whether key holds a live entry. Counters are not touched.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && s.now().Before(e.expiresAt)
}

// Set stores value under key with the store's default TTL.
func (s *Store) Set(key string, value []byte) {
	s.SetWithTTL(key, value, s.ttl)
}

// SetWithTTL stores value under key for ttl. Inserting a new key into a full
// store first evicts the oldest-inserted key.
// Complexity: O(1).
func (s *Store) SetWithTTL(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.stats.Sets.Add(1)

	if e, ok := s.entries[key]; ok {
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(ttl)
		return
	}

	if len(s.entries) >= s.maxSize {
		s.evictOldestLocked()
	}

	e := &entry{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	e.element = s.order.PushBack(e)
	s.entries[key] = e
}

// Delete removes key. Returns true if it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(key)
}

// DeletePattern removes every key matching pattern. A trailing "*" matches by
// prefix, anything else must match exactly. Returns the number of keys removed.
func (s *Store) DeletePattern(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []string
	for key := range s.entries {
		if matchesPattern(key, pattern) {
			matched = append(matched, key)
		}
	}

	count := 0
	for _, key := range matched {
		if s.deleteLocked(key) {
			count++
		}
	}
	return count
}

func matchesPattern(key, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return key == pattern
}

// Clear drops all entries. Counters are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry, s.maxSize)
	s.order.Init()
}

// Cleanup removes every entry whose expiry has passed and returns how many were removed.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []string
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		s.deleteLocked(key)
	}
	return len(expired)
}

// Keys returns the live keys in insertion order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for el := s.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// Len returns the number of entries, including expired ones not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns current counters and sizing.
func (s *Store) Snapshot() Snapshot {
	size := s.Len()
	hits := s.stats.Hits.Load()
	misses := s.stats.Misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Snapshot{
		Name:      s.name,
		Hits:      hits,
		Misses:    misses,
		Sets:      s.stats.Sets.Load(),
		Evictions: s.stats.Evictions.Load(),
		Size:      size,
		MaxSize:   s.maxSize,
		TTLMillis: s.ttl.Milliseconds(),
		HitRate:   hitRate,
	}
}

// deleteLocked must be called with mu held.
func (s *Store) deleteLocked(key string) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.order.Remove(e.element)
	delete(s.entries, key)
	return true
}

// evictOldestLocked must be called with mu held.
func (s *Store) evictOldestLocked() {
	oldest := s.order.Front()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	s.order.Remove(oldest)
	delete(s.entries, e.key)
	s.stats.Evictions.Add(1)
}
