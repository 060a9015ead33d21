package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Family names. Each maps to one Store.
const (
	FamilyBedInfo          = "bed-info"
	FamilyHospitalList     = "hospital-list"
	FamilyMessages         = "emergency-messages"
	FamilySevereDiseases   = "severe-diseases"
	FamilySevereAcceptance = "severe-acceptance"
)

// FamilyConfig sizes one store.
type FamilyConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// DefaultFamilies returns the capacity and TTL of each data family.
func DefaultFamilies() map[string]FamilyConfig {
	return map[string]FamilyConfig{
		FamilyBedInfo:          {MaxSize: 100, TTL: 5 * time.Minute},
		FamilyHospitalList:     {MaxSize: 100, TTL: 10 * time.Minute},
		FamilyMessages:         {MaxSize: 500, TTL: 3 * time.Minute},
		FamilySevereDiseases:   {MaxSize: 100, TTL: 5 * time.Minute},
		FamilySevereAcceptance: {MaxSize: 100, TTL: 3 * time.Minute},
	}
}

// Registry owns the per-family stores. Built once at startup.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]*Store
}

// NewRegistry builds one Store per family.
func NewRegistry(families map[string]FamilyConfig, opts ...Option) *Registry {
	r := &Registry{stores: make(map[string]*Store, len(families))}
	for name, fc := range families {
		r.stores[name] = NewStore(name, fc.MaxSize, fc.TTL, opts...)
	}
	return r
}

// Store returns the named family store.
func (r *Registry) Store(name string) (*Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("unknown cache family %q", name)
	}
	return s, nil
}

// MustStore is Store for wiring code where an unknown family is a programming error.
func (r *Registry) MustStore(name string) *Store {
	s, err := r.Store(name)
	if err != nil {
		panic(err)
	}
	return s
}

// Names returns the registered family names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CleanupAll sweeps expired entries from every store.
func (r *Registry) CleanupAll() map[string]int {
	removed := make(map[string]int)
	for _, name := range r.Names() {
		s, _ := r.Store(name)
		if n := s.Cleanup(); n > 0 {
			removed[name] = n
		}
	}
	return removed
}

// ClearAll drops all entries from every store.
func (r *Registry) ClearAll() {
	for _, name := range r.Names() {
		s, _ := r.Store(name)
		s.Clear()
	}
}

// Snapshots returns one snapshot per store, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	names := r.Names()
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		s, _ := r.Store(name)
		out = append(out, s.Snapshot())
	}
	return out
}
