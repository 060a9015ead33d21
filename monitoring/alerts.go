package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erboard/erboard/pkg/pubsub"
)

// maxResolved bounds the resolved alert history kept in memory.
const maxResolved = 100

// AlertManager keeps one alert per degraded upstream API. A failure event opens
// the alert, the matching recovery resolves it.
//
// Events are applied idempotently: a failure for an API that already has an
// active alert only refreshes its detail, and a recovery without an active
// alert is ignored. Redelivered events therefore change nothing.
type AlertManager struct {
	mu             sync.RWMutex
	activeAlerts   map[string]*Alert
	resolvedAlerts []Alert

	stats AlertManagerStats
}

// AlertManagerStats tracks alert manager statistics.
type AlertManagerStats struct {
	TotalTriggered atomic.Int64
	TotalResolved  atomic.Int64
	TotalDuration  atomic.Int64 // cumulative milliseconds
}

// Alert is an active or resolved upstream outage.
type Alert struct {
	ID          string     `json:"id"`
	APIName     string     `json:"api_name"`
	Severity    string     `json:"severity"`
	Detail      string     `json:"detail,omitempty"`
	Region      string     `json:"region,omitempty"`
	Failures    int        `json:"failures"`
	TriggeredAt time.Time  `json:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Duration    float64    `json:"duration_seconds,omitempty"`
	ItemCount   int        `json:"item_count,omitempty"`
	Resolved    bool       `json:"resolved"`
}

// AlertStats summarizes the alert manager.
type AlertStats struct {
	TotalTriggered int64   `json:"total_triggered"`
	TotalResolved  int64   `json:"total_resolved"`
	ActiveCount    int     `json:"active_count"`
	AvgDuration    float64 `json:"avg_duration_seconds"`
}

// NewAlertManager creates an empty alert manager.
func NewAlertManager() *AlertManager {
	return &AlertManager{
		activeAlerts:   make(map[string]*Alert),
		resolvedAlerts: make([]Alert, 0),
	}
}

// Apply updates the registry from a health transition. It reports whether the
// set of active alerts changed.
func (am *AlertManager) Apply(event *pubsub.HealthEvent) bool {
	switch event.State {
	case pubsub.StateFailure:
		return am.trigger(event)
	case pubsub.StateRecovery:
		return am.resolve(event)
	default:
		return false
	}
}

func (am *AlertManager) trigger(event *pubsub.HealthEvent) bool {
	am.mu.Lock()
	defer am.mu.Unlock()

	if existing, ok := am.activeAlerts[event.APIName]; ok {
		if existing.ID != event.ID {
			existing.Failures++
		}
		existing.Detail = event.Detail
		existing.Region = event.Region
		return false
	}

	am.activeAlerts[event.APIName] = &Alert{
		ID:          event.ID,
		APIName:     event.APIName,
		Severity:    "critical",
		Detail:      event.Detail,
		Region:      event.Region,
		Failures:    1,
		TriggeredAt: event.Timestamp,
	}
	am.stats.TotalTriggered.Add(1)
	return true
}

func (am *AlertManager) resolve(event *pubsub.HealthEvent) bool {
	am.mu.Lock()
	defer am.mu.Unlock()

	alert, ok := am.activeAlerts[event.APIName]
	if !ok || event.Timestamp.Before(alert.TriggeredAt) {
		return false
	}

	resolvedAt := event.Timestamp
	duration := resolvedAt.Sub(alert.TriggeredAt)
	alert.ResolvedAt = &resolvedAt
	alert.Duration = duration.Seconds()
	alert.ItemCount = event.ItemCount
	alert.Resolved = true

	am.resolvedAlerts = append(am.resolvedAlerts, *alert)
	delete(am.activeAlerts, event.APIName)

	am.stats.TotalResolved.Add(1)
	am.stats.TotalDuration.Add(duration.Milliseconds())

	if len(am.resolvedAlerts) > maxResolved {
		am.resolvedAlerts = am.resolvedAlerts[len(am.resolvedAlerts)-maxResolved:]
	}
	return true
}

// GetActiveAlerts returns the active alerts, oldest first.
func (am *AlertManager) GetActiveAlerts() []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]Alert, 0, len(am.activeAlerts))
	for _, alert := range am.activeAlerts {
		alerts = append(alerts, *alert)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].TriggeredAt.Before(alerts[j].TriggeredAt)
	})
	return alerts
}

// GetRecentResolvedAlerts returns the n most recent resolved alerts, newest first.
func (am *AlertManager) GetRecentResolvedAlerts(n int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if n > len(am.resolvedAlerts) {
		n = len(am.resolvedAlerts)
	}
	result := make([]Alert, n)
	for i := 0; i < n; i++ {
		result[i] = am.resolvedAlerts[len(am.resolvedAlerts)-1-i]
	}
	return result
}

// IsActive reports whether api has an open alert.
func (am *AlertManager) IsActive(api string) bool {
	am.mu.RLock()
	defer am.mu.RUnlock()
	_, ok := am.activeAlerts[api]
	return ok
}

// GetStats returns alert manager statistics.
func (am *AlertManager) GetStats() AlertStats {
	triggered := am.stats.TotalTriggered.Load()
	resolved := am.stats.TotalResolved.Load()
	totalDuration := am.stats.TotalDuration.Load()

	avgDuration := 0.0
	if resolved > 0 {
		avgDuration = float64(totalDuration) / float64(resolved) / 1000.0
	}

	am.mu.RLock()
	activeCount := len(am.activeAlerts)
	am.mu.RUnlock()

	return AlertStats{
		TotalTriggered: triggered,
		TotalResolved:  resolved,
		ActiveCount:    activeCount,
		AvgDuration:    avgDuration,
	}
}
