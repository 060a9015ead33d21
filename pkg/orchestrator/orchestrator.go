// Package orchestrator serves dashboard data endpoints on top of the rate
// limiter, the response caches and the failover client.
//
// Request lifecycle:
//
//	rate check -> 429
//	plan       -> 400
//	cache      -> HIT
//	fetch      -> normalize -> cache (real data only) -> health transition -> MISS
//	           -> error: sample body, X-Cache: ERROR
//
// Fallback data is never written to a cache, so the first request after the
// upstream recovers performs a real fetch.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/erboard/erboard/pkg/cache"
	"github.com/erboard/erboard/pkg/ermct"
	"github.com/erboard/erboard/pkg/health"
	"github.com/erboard/erboard/pkg/logging"
	"github.com/erboard/erboard/pkg/metrics"
	"github.com/erboard/erboard/pkg/ratelimit"
	"github.com/erboard/erboard/pkg/xmlresp"
)

// Fetcher performs upstream calls. *ermct.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req ermct.Request) (*ermct.Result, error)
}

// CacheState is the X-Cache header value.
type CacheState string

const (
	CacheHit   CacheState = "HIT"
	CacheMiss  CacheState = "MISS"
	CacheError CacheState = "ERROR"
)

// Options tunes an Orchestrator.
type Options struct {
	// Coalesce collapses concurrent misses on the same cache key into one fetch.
	Coalesce bool
	// CoalesceTimeout bounds a shared fetch. Zero uses DefaultCoalesceTimeout.
	CoalesceTimeout time.Duration

	Logger *zap.Logger
	Now    func() time.Time
}

// DefaultCoalesceTimeout bounds a shared fetch, which outlives the caller that
// started it.
const DefaultCoalesceTimeout = 2 * time.Minute

// Orchestrator wires the resilience components together.
type Orchestrator struct {
	limiter *ratelimit.Limiter
	caches  *cache.Registry
	fetcher Fetcher
	tracker *health.Tracker

	coalesce        bool
	coalesceTimeout time.Duration
	group           singleflight.Group
	logger          *zap.Logger
	now             func() time.Time
}

// New creates an orchestrator. tracker may be nil.
func New(limiter *ratelimit.Limiter, caches *cache.Registry, fetcher Fetcher, tracker *health.Tracker, opts Options) *Orchestrator {
	if tracker == nil {
		tracker = health.NewTracker(nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	coalesceTimeout := opts.CoalesceTimeout
	if coalesceTimeout <= 0 {
		coalesceTimeout = DefaultCoalesceTimeout
	}
	return &Orchestrator{
		limiter:         limiter,
		caches:          caches,
		fetcher:         fetcher,
		tracker:         tracker,
		coalesce:        opts.Coalesce,
		coalesceTimeout: coalesceTimeout,
		logger:          logging.OrNop(opts.Logger),
		now:             now,
	}
}

// Tracker returns the health tracker.
func (o *Orchestrator) Tracker() *health.Tracker {
	return o.tracker
}

// Handler adapts ep to http.Handler, identifying callers by ratelimit.ClientIP.
func (o *Orchestrator) Handler(ep *Endpoint) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.Handle(r.Context(), ep, ratelimit.ClientIP(r), r).Write(w)
	})
}

// fetched is the shared outcome of one upstream fetch.
type fetched struct {
	body   []byte
	sample bool
}

// Handle runs the full request lifecycle and never returns nil.
func (o *Orchestrator) Handle(ctx context.Context, ep *Endpoint, identity string, r *http.Request) *Reply {
	start := o.now()
	reply := o.handle(ctx, ep, identity, r)
	reply.Headers.Set("X-Response-Time", fmt.Sprintf("%.2fms", float64(o.now().Sub(start).Microseconds())/1000))
	return reply
}

func (o *Orchestrator) handle(ctx context.Context, ep *Endpoint, identity string, r *http.Request) *Reply {
	log := o.logger.With(zap.String("endpoint", ep.Name))

	decision := o.limiter.Check(ctx, identity, ep.Name)
	rlHeaders := ratelimit.Headers(decision)
	if !decision.Allowed {
		log.Warn("rate limit exceeded", zap.String("client", identity), zap.Int("retry_after", decision.RetryAfter))
		return jsonReply(http.StatusTooManyRequests, ratelimit.DeniedBody{
			Error:      "Too many requests",
			RetryAfter: decision.RetryAfter,
		}, rlHeaders)
	}

	plan, err := ep.Plan(r)
	if err != nil {
		return jsonReply(http.StatusBadRequest, map[string]string{"error": err.Error()}, rlHeaders)
	}
	format := ep.formatFor(plan)

	store, err := o.caches.Store(ep.Family)
	if err != nil {
		log.Error("cache family missing", zap.String("family", ep.Family), zap.Error(err))
		return jsonReply(http.StatusInternalServerError, map[string]string{"error": "internal error"}, rlHeaders)
	}

	if body, ok := store.Get(plan.CacheKey); ok {
		metrics.CacheLookups.WithLabelValues(ep.Family, "hit").Inc()
		log.Debug("cache hit", zap.String("key", plan.CacheKey))
		return o.dataReply(ep, format, body, false, CacheHit, rlHeaders)
	}
	metrics.CacheLookups.WithLabelValues(ep.Family, "miss").Inc()

	var out *fetched
	if o.coalesce {
		out, err = o.fetchShared(ctx, ep, plan, format, store, log)
	} else {
		out, err = o.fetchAndStore(ctx, ep, plan, format, store)
	}
	if err != nil {
		return o.errorReply(ctx, ep, plan, format, err, rlHeaders)
	}
	return o.dataReply(ep, format, out.body, out.sample, CacheMiss, rlHeaders)
}

// fetchShared joins the in-flight fetch for the same cache key. The fetch runs
// detached from the caller that started it, so one client disconnecting does
// not fail the others; each caller stops waiting when its own ctx ends.
func (o *Orchestrator) fetchShared(ctx context.Context, ep *Endpoint, plan Plan, format Format, store *cache.Store, log *zap.Logger) (*fetched, error) {
	ch := o.group.DoChan(ep.Family+"|"+plan.CacheKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.coalesceTimeout)
		defer cancel()
		return o.fetchAndStore(fctx, ep, plan, format, store)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			log.Debug("coalesced upstream fetch", zap.String("key", plan.CacheKey))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fetched), nil
	}
}

// ErrSampleServed reports that a warm fetch only produced fallback data.
var ErrSampleServed = errors.New("upstream served fallback data")

// Warm fills the cache for r without rate limiting. An entry that is already
// cached counts as warm.
func (o *Orchestrator) Warm(ctx context.Context, ep *Endpoint, r *http.Request) (CacheState, error) {
	plan, err := ep.Plan(r)
	if err != nil {
		return CacheError, err
	}
	store, err := o.caches.Store(ep.Family)
	if err != nil {
		return CacheError, err
	}
	if store.Contains(plan.CacheKey) {
		return CacheHit, nil
	}
	out, err := o.fetchAndStore(ctx, ep, plan, ep.formatFor(plan), store)
	if err != nil {
		return CacheError, err
	}
	if out.sample {
		return CacheError, ErrSampleServed
	}
	return CacheMiss, nil
}

// fetchAndStore fetches, normalizes, caches real data and reports health.
func (o *Orchestrator) fetchAndStore(ctx context.Context, ep *Endpoint, plan Plan, format Format, store *cache.Store) (*fetched, error) {
	res, err := o.fetchPlan(ctx, ep, plan)
	if err != nil {
		return nil, err
	}

	parsed := xmlresp.Parse(res.Payload)
	body := res.Payload
	if format == FormatJSON {
		body, err = ep.Render(parsed, res.UsedFallback)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", ep.Name, err)
		}
	}

	items := len(parsed.Items)
	switch {
	case res.UsedFallback:
		o.tracker.Degraded(ctx, ep.APIName, fallbackDetail(res), plan.Region)
	case ep.ExpectItems && items == 0:
		o.tracker.Degraded(ctx, ep.APIName, "empty result (totalCount: 0)", plan.Region)
	default:
		o.tracker.Recovered(ctx, ep.APIName, plan.Region, items)
	}

	if !res.UsedFallback {
		store.Set(plan.CacheKey, body)
		if ep.Observe != nil && parsed.Success {
			ep.Observe(parsed)
		}
	}

	return &fetched{body: body, sample: res.UsedFallback}, nil
}

// fetchPlan tries each parameter set until one yields real data. The last
// outcome is returned as-is.
func (o *Orchestrator) fetchPlan(ctx context.Context, ep *Endpoint, plan Plan) (*ermct.Result, error) {
	var (
		res *ermct.Result
		err error
	)
	for i, params := range plan.Calls {
		res, err = o.fetcher.Fetch(ctx, ermct.Request{
			Endpoint:    ep.Upstream,
			Params:      params,
			Fallback:    ep.Fallback,
			Description: ep.APIName,
			Timeout:     ep.Timeout,
		})
		if err == nil && !res.UsedFallback {
			return res, nil
		}
		if ctx.Err() != nil || i == len(plan.Calls)-1 {
			break
		}
		o.logger.Info("retrying with alternate parameters",
			zap.String("endpoint", ep.Name),
			zap.Int("call", i+2),
		)
	}
	if err == nil && res == nil {
		err = errors.New("no upstream call planned")
	}
	return res, err
}

func (o *Orchestrator) dataReply(ep *Endpoint, format Format, body []byte, sample bool, state CacheState, rl http.Header) *Reply {
	h := rl.Clone()
	cc := ep.cacheControl()
	if sample {
		cc = CacheControlSample
	}
	h.Set("Cache-Control", cc)
	h.Set("X-Cache", string(state))
	h.Set("X-Sample-Data", fmt.Sprint(sample))
	return &Reply{
		Status:      http.StatusOK,
		Body:        body,
		ContentType: format.ContentType(),
		Headers:     h,
		CacheState:  state,
		Sample:      sample,
	}
}

// errorReply answers a failed fetch with a sample-shaped body.
func (o *Orchestrator) errorReply(ctx context.Context, ep *Endpoint, plan Plan, format Format, err error, rl http.Header) *Reply {
	log := o.logger.With(zap.String("endpoint", ep.Name))
	if ctx.Err() == nil {
		log.Error("upstream fetch failed, serving sample data", zap.Error(err))
		o.tracker.Degraded(ctx, ep.APIName, err.Error(), plan.Region)
	} else {
		log.Info("request cancelled during upstream fetch", zap.Error(err))
	}

	body := ep.sample()
	if format == FormatJSON {
		rendered, rerr := ep.Render(xmlresp.Parse(body), true)
		if rerr != nil {
			log.Error("render sample failed", zap.Error(rerr))
			rendered, _ = json.Marshal(map[string]any{"success": false, "items": []any{}, "usedSample": true})
		}
		body = rendered
	}

	h := rl.Clone()
	h.Set("Cache-Control", CacheControlSample)
	h.Set("X-Cache", string(CacheError))
	h.Set("X-Sample-Data", "true")
	h.Set("X-Error", headerSafe(err.Error()))
	return &Reply{
		Status:      http.StatusOK,
		Body:        body,
		ContentType: format.ContentType(),
		Headers:     h,
		CacheState:  CacheError,
		Sample:      true,
		Err:         err,
	}
}

func fallbackDetail(res *ermct.Result) string {
	if len(res.Errors) == 0 {
		return "no API credentials configured"
	}
	return res.Errors[len(res.Errors)-1].Reason
}

const maxHeaderError = 256

func headerSafe(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
	if r := []rune(s); len(r) > maxHeaderError {
		s = string(r[:maxHeaderError])
	}
	return s
}
