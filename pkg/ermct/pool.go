package ermct

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// KeySlots are the environment variables credentials are read from, in pool order.
var KeySlots = []string{
	"ERMCT_API_KEY",
	"ERMCT_API_KEY_ALT",
	"ERMCT_API_KEY2",
	"ERMCT_API_KEY_2",
	"ERMCT_API_KEY3",
	"ERMCT_API_KEY_3",
	"ERMCT_API_KEY_SECONDARY",
	"ERMCT_API_KEY_THIRD",
	"ERMCT_API_KEY_BACKUP",
}

// Cooldown defaults.
const (
	DefaultErrorThreshold = 3
	DefaultCooldown       = 5 * time.Minute
)

// keyStatus tracks one credential's recent history.
type keyStatus struct {
	successCount int64
	errorCount   int // consecutive
	lastError    time.Time
	lastUsed     time.Time
	inCooldown   bool
}

// Pool is the ordered set of upstream credentials plus the index of the last one
// known to work.
//
// active is read and written without coordinating with in-flight attempts: two
// concurrent fetches may both fail over and the last writer wins. Both outcomes
// point at a working key, so the race is tolerated.
type Pool struct {
	keys   []string
	active atomic.Int64

	mu        sync.Mutex
	status    []keyStatus
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithCooldown sets how many consecutive errors put a key into cooldown and for how long.
func WithCooldown(threshold int, d time.Duration) PoolOption {
	return func(p *Pool) {
		if threshold > 0 {
			p.threshold = threshold
		}
		if d > 0 {
			p.cooldown = d
		}
	}
}

// WithPoolClock overrides the time source.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) {
		p.now = now
	}
}

// NewPool builds a pool from raw credential values. Values are trimmed, empty ones
// dropped and duplicates removed keeping the first occurrence.
func NewPool(raw []string, opts ...PoolOption) *Pool {
	seen := make(map[string]bool, len(raw))
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	p := &Pool{
		keys:      keys,
		status:    make([]keyStatus, len(keys)),
		threshold: DefaultErrorThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(keys) == 0 {
		p.active.Store(-1)
	}
	return p
}

// PoolFromLookup reads KeySlots through lookup (os.LookupEnv, secrets, ...).
func PoolFromLookup(lookup func(string) (string, bool), opts ...PoolOption) *Pool {
	raw := make([]string, 0, len(KeySlots))
	for _, slot := range KeySlots {
		if v, ok := lookup(slot); ok {
			raw = append(raw, v)
		}
	}
	return NewPool(raw, opts...)
}

// Len returns the number of credentials.
func (p *Pool) Len() int {
	return len(p.keys)
}

// Active returns the index of the last known-good credential, -1 when empty.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Key returns credential i.
func (p *Pool) Key(i int) string {
	if i < 0 || i >= len(p.keys) {
		return ""
	}
	return p.keys[i]
}

// Label renders credential i for logs without exposing it: "#2(...abcd)".
func (p *Pool) Label(i int) string {
	key := p.Key(i)
	suffix := "----"
	if len(key) >= 4 {
		suffix = key[len(key)-4:]
	}
	return fmt.Sprintf("#%d(...%s)", i+1, suffix)
}

// promote makes i the active credential. Returns true if it changed.
func (p *Pool) promote(i int) bool {
	return p.active.Swap(int64(i)) != int64(i)
}

// AttemptOrder returns every index once, starting at the active one and wrapping.
// Keys in cooldown keep their relative order but move behind all available keys.
func (p *Pool) AttemptOrder() []int {
	n := len(p.keys)
	if n == 0 {
		return nil
	}

	start := p.Active()
	if start < 0 || start >= n {
		start = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	available := make([]int, 0, n)
	var cooling []int
	for offset := 0; offset < n; offset++ {
		i := (start + offset) % n
		if p.availableLocked(i, now) {
			available = append(available, i)
		} else {
			cooling = append(cooling, i)
		}
	}
	return append(available, cooling...)
}

// availableLocked ends an expired cooldown as a side effect. mu must be held.
func (p *Pool) availableLocked(i int, now time.Time) bool {
	st := &p.status[i]
	if !st.inCooldown {
		return true
	}
	if now.Sub(st.lastError) < p.cooldown {
		return false
	}
	st.inCooldown = false
	st.errorCount = 0
	return true
}

// recordSuccess clears the error streak of key i.
func (p *Pool) recordSuccess(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := &p.status[i]
	st.lastUsed = p.now()
	st.successCount++
	st.errorCount = 0
	st.inCooldown = false
}

// recordError extends the error streak of key i. Returns true when this error
// put the key into cooldown.
func (p *Pool) recordError(i int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := &p.status[i]
	st.lastError = p.now()
	st.errorCount++
	if st.errorCount >= p.threshold && !st.inCooldown {
		st.inCooldown = true
		return true
	}
	return false
}

// ResetCooldowns releases every key from cooldown.
func (p *Pool) ResetCooldowns() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.status {
		p.status[i].inCooldown = false
		p.status[i].errorCount = 0
	}
}

// KeyStat is the public view of one credential.
type KeyStat struct {
	Index     int    `json:"index"`
	Label     string `json:"label"`
	Success   int64  `json:"success"`
	Errors    int    `json:"errors"`
	Available bool   `json:"available"`
}

// KeyStats summarizes the pool.
type KeyStats struct {
	Total       int       `json:"total"`
	ActiveIndex int       `json:"activeIndex"`
	ActiveKey   string    `json:"activeKey"`
	Available   int       `json:"available"`
	InCooldown  int       `json:"inCooldown"`
	Keys        []KeyStat `json:"keys"`
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() KeyStats {
	active := p.Active()
	out := KeyStats{
		Total:       len(p.keys),
		ActiveIndex: active,
		Keys:        make([]KeyStat, 0, len(p.keys)),
	}
	if active >= 0 {
		out.ActiveKey = p.Label(active)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i := range p.keys {
		avail := p.availableLocked(i, now)
		out.Keys = append(out.Keys, KeyStat{
			Index:     i,
			Label:     p.Label(i),
			Success:   p.status[i].successCount,
			Errors:    p.status[i].errorCount,
			Available: avail,
		})
		if avail {
			out.Available++
		} else {
			out.InCooldown++
		}
	}
	return out
}
