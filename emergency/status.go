package emergency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/erboard/erboard/pkg/cache"
	"github.com/erboard/erboard/pkg/config"
	"github.com/erboard/erboard/pkg/ermct"
	"github.com/erboard/erboard/pkg/health"
	"github.com/erboard/erboard/pkg/metrics"
	"github.com/erboard/erboard/pkg/middleware"
	"github.com/erboard/erboard/pkg/ratelimit"
)

const cacheStatusEndpoint = "cache-status"

// CacheSummary aggregates every cache family.
type CacheSummary struct {
	TotalCaches    int    `json:"totalCaches"`
	TotalCacheSize int    `json:"totalCacheSize"`
	TotalHits      int64  `json:"totalHits"`
	TotalMisses    int64  `json:"totalMisses"`
	OverallHitRate string `json:"overallHitRate"`
}

// CacheStatusResponse is the body of GET /api/cache-status.
type CacheStatusResponse struct {
	Success     bool             `json:"success"`
	Timestamp   time.Time        `json:"timestamp"`
	Summary     CacheSummary     `json:"summary"`
	Caches      []cache.Snapshot `json:"caches"`
	RateLimiter *ratelimit.Stats `json:"rateLimiter,omitempty"`
	Credentials ermct.KeyStats   `json:"credentials"`
	Upstreams   []health.Status  `json:"upstreams"`
}

// Check is one line of a health report.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Check statuses.
const (
	CheckOK    = "ok"
	CheckWarn  = "warn"
	CheckError = "error"
)

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      int64          `json:"uptime"`
	Checks      []Check        `json:"checks"`
	Credentials ermct.KeyStats `json:"credentials"`
}

// CacheStatus reports cache, limiter, credential and upstream state.
func (s *Service) CacheStatus() CacheStatusResponse {
	snaps := s.caches.Snapshots()
	resp := CacheStatusResponse{
		Success:     true,
		Timestamp:   s.now().UTC(),
		Caches:      snaps,
		Credentials: s.pool.Stats(),
		Upstreams:   s.tracker.Statuses(),
	}
	resp.Summary.TotalCaches = len(snaps)
	for _, snap := range snaps {
		resp.Summary.TotalCacheSize += snap.Size
		resp.Summary.TotalHits += snap.Hits
		resp.Summary.TotalMisses += snap.Misses
	}
	resp.Summary.OverallHitRate = hitRateLabel(resp.Summary.TotalHits, resp.Summary.TotalMisses)
	if s.memStore != nil {
		st := s.memStore.Stats()
		resp.RateLimiter = &st
	}
	return resp
}

func hitRateLabel(hits, misses int64) string {
	total := hits + misses
	if total == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", float64(hits)/float64(total)*100)
}

// Health reports configuration checks. The status is "error" without credentials.
func (s *Service) Health() (HealthResponse, int) {
	stats := s.pool.Stats()
	checks := []Check{credentialCheck(stats)}

	for _, st := range s.tracker.Statuses() {
		if st.Degraded {
			checks = append(checks, Check{Name: st.APIName, Status: CheckWarn, Message: st.LastDetail})
		}
	}
	if s.cfg.LimiterBackend == config.BackendRedis {
		checks = append(checks, Check{Name: "RATE_LIMIT_REDIS", Status: CheckOK, Message: s.cfg.Redis.Addr})
	}

	resp := HealthResponse{
		Status:      overallStatus(checks),
		Timestamp:   s.now().UTC(),
		Uptime:      int64(s.now().Sub(s.startedAt).Seconds()),
		Checks:      checks,
		Credentials: stats,
	}
	code := http.StatusOK
	if resp.Status == CheckError {
		code = http.StatusServiceUnavailable
	}
	return resp, code
}

func credentialCheck(stats ermct.KeyStats) Check {
	switch {
	case stats.Total == 0:
		return Check{Name: "ERMCT_API_KEY", Status: CheckError, Message: "no credentials configured"}
	case stats.Available == 0:
		return Check{Name: "ERMCT_API_KEY", Status: CheckWarn, Message: "every credential is cooling down"}
	default:
		return Check{Name: "ERMCT_API_KEY", Status: CheckOK, Message: fmt.Sprintf("%d/%d available", stats.Available, stats.Total)}
	}
}

// overallStatus maps checks to ok, degraded or error.
func overallStatus(checks []Check) string {
	status := CheckOK
	for _, c := range checks {
		switch c.Status {
		case CheckError:
			return CheckError
		case CheckWarn:
			status = "degraded"
		}
	}
	return status
}

// ServeCacheStatus is the rate-limited cache-status handler.
func (s *Service) ServeCacheStatus(w http.ResponseWriter, req *http.Request) {
	s.cacheStatus.ServeHTTP(w, req)
}

// ServeHealth writes the health report.
func (s *Service) ServeHealth(w http.ResponseWriter, req *http.Request) {
	resp, code := s.Health()
	writeJSON(w, code, resp, nil)
}

// ServeUpstreamCheck runs a live upstream check.
func (s *Service) ServeUpstreamCheck(w http.ResponseWriter, req *http.Request) {
	report := s.upstream.Run(req.Context())
	code := http.StatusOK
	if report.Status == UpstreamDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any, extra http.Header) {
	for k, vs := range extra {
		for _, val := range vs {
			w.Header().Add(k, val)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withService(w http.ResponseWriter, req *http.Request, fn func(*Service, http.ResponseWriter, *http.Request)) {
	s, err := initService()
	if err != nil || s == nil {
		writeUnavailable(w, err)
		return
	}
	middleware.RequestLogger(s.logger, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fn(s, w, req)
	})).ServeHTTP(w, req)
}

//encore:api public raw method=GET path=/api/cache-status
func CacheStatus(w http.ResponseWriter, req *http.Request) {
	withService(w, req, (*Service).ServeCacheStatus)
}

//encore:api public raw method=GET path=/api/health
func Health(w http.ResponseWriter, req *http.Request) {
	withService(w, req, (*Service).ServeHealth)
}

//encore:api public raw method=GET path=/api/health-check
func HealthCheck(w http.ResponseWriter, req *http.Request) {
	withService(w, req, (*Service).ServeUpstreamCheck)
}

//encore:api public raw method=GET path=/metrics
func Metrics(w http.ResponseWriter, req *http.Request) {
	metrics.Handler().ServeHTTP(w, req)
}

// ResetCooldownsResponse reports the pool after a reset.
type ResetCooldownsResponse struct {
	Credentials ermct.KeyStats `json:"credentials"`
}

// ResetCooldowns makes every credential available again.
//
//encore:api private method=POST path=/api/admin/keys/reset-cooldowns
func ResetCooldowns(ctx context.Context) (*ResetCooldownsResponse, error) {
	s, err := initService()
	if err != nil {
		return nil, err
	}
	s.pool.ResetCooldowns()
	s.logger.Info("credential cooldowns reset")
	return &ResetCooldownsResponse{Credentials: s.pool.Stats()}, nil
}
