// Package metrics exposes Prometheus collectors for the resilience layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "erboard"
	subsystem = "upstream"
)

var (
	// CacheLookups counts cache lookups by family and result (hit, miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by family and result",
		},
		[]string{"family", "result"},
	)

	// CacheCleanupRemoved counts entries removed by periodic cleanup, by family.
	CacheCleanupRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "cleanup_removed_total",
			Help:      "Total number of expired cache entries removed by cleanup",
		},
		[]string{"family"},
	)

	// UpstreamAttempts counts per-credential attempts by operation and outcome.
	UpstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempts_total",
			Help:      "Total number of upstream attempts by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// UpstreamFailovers counts successes on a credential other than the active one.
	UpstreamFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failovers_total",
			Help:      "Total number of times a different credential became active",
		},
		[]string{"operation"},
	)

	// UpstreamFallbacks counts requests answered with fallback data.
	UpstreamFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fallbacks_total",
			Help:      "Total number of requests answered with fallback data",
		},
		[]string{"operation", "reason"},
	)

	// UpstreamLatency observes successful fetch latency.
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetch_duration_seconds",
			Help:      "Upstream fetch duration across all attempts",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// RateLimitDecisions counts limiter decisions by endpoint and result (allowed, denied).
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total number of rate limit decisions by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	// HealthTransitions counts degraded/recovered transitions by api.
	HealthTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "transitions_total",
			Help:      "Total number of upstream health transitions by api and state",
		},
		[]string{"api", "state"},
	)

	// KeysInCooldown reports credentials currently cooling down.
	KeysInCooldown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "keys_in_cooldown",
			Help:      "Number of upstream credentials currently in cooldown",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
