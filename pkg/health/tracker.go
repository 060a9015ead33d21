// Package health tracks whether each upstream API is currently serving real data
// and emits an event only when that changes.
//
// A failure is announced once per outage: while an API stays degraded further
// failures are swallowed. A new outage that starts within the alert cooldown of
// the previous failure alert is not announced at all, even after a recovery in
// between. A recovery is announced only for an API that was announced as failing.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erboard/erboard/pkg/logging"
	"github.com/erboard/erboard/pkg/metrics"
	"github.com/erboard/erboard/pkg/pubsub"
)

// DefaultAlertCooldown is the minimum gap between two failure events for one API.
const DefaultAlertCooldown = 30 * time.Minute

// Notifier delivers transitions (chat webhook, pub/sub topic, ...).
type Notifier interface {
	Notify(ctx context.Context, event *pubsub.HealthEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event *pubsub.HealthEvent) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event *pubsub.HealthEvent) error {
	return f(ctx, event)
}

// Status is the current view of one API.
type Status struct {
	APIName     string    `json:"apiName"`
	Degraded    bool      `json:"degraded"`
	Since       time.Time `json:"since"`
	LastDetail  string    `json:"lastDetail,omitempty"`
	Failures    int64     `json:"failures"`
	Recoveries  int64     `json:"recoveries"`
	LastAlertAt time.Time `json:"lastAlertAt,omitempty"`
}

type apiState struct {
	degraded   bool
	since      time.Time
	lastDetail string
	alertedAt  time.Time // last failure alert
	announced  bool      // the current outage produced a failure event
	failures   int64
	recoveries int64
}

// Tracker holds per-API health state.
type Tracker struct {
	notifier Notifier
	cooldown time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	apis map[string]*apiState
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithAlertCooldown overrides DefaultAlertCooldown.
func WithAlertCooldown(d time.Duration) Option {
	return func(t *Tracker) {
		t.cooldown = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = logging.OrNop(logger)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker. A nil notifier only records state.
func NewTracker(notifier Notifier, opts ...Option) *Tracker {
	t := &Tracker{
		notifier: notifier,
		cooldown: DefaultAlertCooldown,
		logger:   zap.NewNop(),
		now:      time.Now,
		apis:     make(map[string]*apiState),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) stateLocked(api string) *apiState {
	st, ok := t.apis[api]
	if !ok {
		st = &apiState{}
		t.apis[api] = st
	}
	return st
}

// Degraded records that api served fallback or empty data. Returns true when
// a failure event was emitted. The state is recorded even while a failure
// alert is held back by the cooldown.
func (t *Tracker) Degraded(ctx context.Context, api, detail, region string) bool {
	t.mu.Lock()
	now := t.now()
	st := t.stateLocked(api)
	st.lastDetail = detail
	if st.degraded {
		t.mu.Unlock()
		return false
	}
	st.degraded = true
	st.since = now
	st.failures++
	if !st.alertedAt.IsZero() && now.Sub(st.alertedAt) < t.cooldown {
		st.announced = false
		t.mu.Unlock()
		metrics.HealthTransitions.WithLabelValues(api, string(pubsub.StateFailure)).Inc()
		t.logger.Info("failure alert suppressed by cooldown",
			zap.String("api", api),
			zap.String("detail", detail),
		)
		return false
	}
	st.alertedAt = now
	st.announced = true
	t.mu.Unlock()

	metrics.HealthTransitions.WithLabelValues(api, string(pubsub.StateFailure)).Inc()
	t.logger.Warn("upstream API degraded",
		zap.String("api", api),
		zap.String("detail", detail),
		zap.String("region", region),
	)
	t.emit(ctx, &pubsub.HealthEvent{
		Version:   pubsub.EventVersion1,
		ID:        uuid.NewString(),
		APIName:   api,
		State:     pubsub.StateFailure,
		Detail:    detail,
		Region:    region,
		Timestamp: now,
	})
	return true
}

// Recovered records that api served real data with items records. Returns true
// when a recovery event was emitted, which happens only for an outage whose
// failure event went out.
func (t *Tracker) Recovered(ctx context.Context, api, region string, items int) bool {
	t.mu.Lock()
	now := t.now()
	st, ok := t.apis[api]
	if !ok || !st.degraded {
		t.mu.Unlock()
		return false
	}
	announced := st.announced
	st.degraded = false
	st.announced = false
	st.since = now
	st.recoveries++
	t.mu.Unlock()

	metrics.HealthTransitions.WithLabelValues(api, string(pubsub.StateRecovery)).Inc()
	if !announced {
		t.logger.Info("upstream API recovered before its failure was announced", zap.String("api", api))
		return false
	}
	t.logger.Info("upstream API recovered",
		zap.String("api", api),
		zap.String("region", region),
		zap.Int("items", items),
	)
	t.emit(ctx, &pubsub.HealthEvent{
		Version:   pubsub.EventVersion1,
		ID:        uuid.NewString(),
		APIName:   api,
		State:     pubsub.StateRecovery,
		Region:    region,
		ItemCount: items,
		Timestamp: now,
	})
	return true
}

// emit delivers event outside the lock. Delivery errors are logged and the
// state change stands.
func (t *Tracker) emit(ctx context.Context, event *pubsub.HealthEvent) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, event); err != nil {
		t.logger.Error("failed to deliver health event",
			zap.String("api", event.APIName),
			zap.String("state", string(event.State)),
			zap.Error(err),
		)
	}
}

// Statuses returns every API seen so far, sorted by name.
func (t *Tracker) Statuses() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Status, 0, len(t.apis))
	for name, st := range t.apis {
		out = append(out, Status{
			APIName:     name,
			Degraded:    st.degraded,
			Since:       st.since,
			LastDetail:  st.lastDetail,
			Failures:    st.failures,
			Recoveries:  st.recoveries,
			LastAlertAt: st.alertedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].APIName < out[j].APIName })
	return out
}

// IsDegraded reports whether api is currently degraded.
func (t *Tracker) IsDegraded(api string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.apis[api]
	return ok && st.degraded
}
