// Package ratelimit implements fixed-window request limiting per (endpoint, client).
//
// Each endpoint has its own limit. A window opens at the first request, counts every
// request until it expires, and a request that would push the count past the limit is
// denied with the number of seconds until the window resets.
//
// Window state lives behind the Store interface: MemoryStore for a single instance,
// RedisStore when several instances must share counters.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/erboard/erboard/pkg/metrics"
)

// Rule is the limit for one endpoint.
type Rule struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// DefaultRule applies to endpoints without an explicit entry.
var DefaultRule = Rule{Window: time.Minute, MaxRequests: 60}

// DefaultRules returns the per-endpoint limits.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"bed-info":           {Window: time.Minute, MaxRequests: 30},
		"hospital-list":      {Window: time.Minute, MaxRequests: 30},
		"severe-diseases":    {Window: time.Minute, MaxRequests: 30},
		"severe-acceptance":  {Window: time.Minute, MaxRequests: 30},
		"emergency-messages": {Window: time.Minute, MaxRequests: 60},
		"cache-status":       {Window: time.Minute, MaxRequests: 10},
	}
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, set only when denied
}

// Store keeps window counters.
type Store interface {
	// Increment records one request against key and returns the resulting count
	// and the window's reset instant. A new window of length window starts when
	// none exists or the previous one has reset.
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
}

// Limiter applies per-endpoint rules on top of a Store.
type Limiter struct {
	store  Store
	rules  map[string]Rule
	def    Rule
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithRules replaces the endpoint rules.
func WithRules(rules map[string]Rule) Option {
	return func(l *Limiter) {
		l.rules = rules
	}
}

// WithDefaultRule replaces the rule for unlisted endpoints.
func WithDefaultRule(r Rule) Option {
	return func(l *Limiter) {
		l.def = r
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a limiter over store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		rules:  DefaultRules(),
		def:    DefaultRule,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RuleFor returns the rule applied to endpoint.
func (l *Limiter) RuleFor(endpoint string) Rule {
	if r, ok := l.rules[endpoint]; ok {
		return r
	}
	return l.def
}

// Check counts one request from identity against endpoint.
// Store errors fail open.
func (l *Limiter) Check(ctx context.Context, identity, endpoint string) Decision {
	rule := l.RuleFor(endpoint)
	now := l.now()
	key := fmt.Sprintf("%s:%s", endpoint, identity)

	count, resetAt, err := l.store.Increment(ctx, key, rule.Window, now)
	if err != nil {
		l.logger.Warn("rate limit store failed, allowing request",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return Decision{
			Allowed:   true,
			Limit:     rule.MaxRequests,
			Remaining: rule.MaxRequests,
			ResetAt:   now.Add(rule.Window),
		}
	}

	if count > rule.MaxRequests {
		metrics.RateLimitDecisions.WithLabelValues(endpoint, "denied").Inc()
		return Decision{
			Allowed:    false,
			Limit:      rule.MaxRequests,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfterSeconds(resetAt, now),
		}
	}

	metrics.RateLimitDecisions.WithLabelValues(endpoint, "allowed").Inc()
	return Decision{
		Allowed:   true,
		Limit:     rule.MaxRequests,
		Remaining: rule.MaxRequests - count,
		ResetAt:   resetAt,
	}
}

// retryAfterSeconds rounds the time until reset up to whole seconds.
func retryAfterSeconds(resetAt, now time.Time) int {
	ms := resetAt.Sub(now).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int(math.Ceil(float64(ms) / 1000))
}
