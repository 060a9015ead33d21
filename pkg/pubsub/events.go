package pubsub

import (
	"errors"
	"fmt"
	"time"
)

// Events carry a Version. New fields may be added; fields are never removed.
const (
	// EventVersion1 is the current event schema version
	EventVersion1 = 1
)

// HealthState is the direction of an upstream health transition.
type HealthState string

const (
	StateFailure  HealthState = "failure"
	StateRecovery HealthState = "recovery"
)

// HealthEvent reports that an upstream API started serving fallback data or
// came back. Published to TopicUpstreamHealth.
//
// Only transitions are published: repeated failures while already degraded,
// and successes while healthy, produce no event.
type HealthEvent struct {
	// Version of the event schema
	Version int `json:"version"`

	// ID uniquely identifies the transition; consumers dedupe on it.
	ID string `json:"id"`

	// APIName is the human name of the upstream API (e.g. "병상정보 조회").
	APIName string `json:"api_name"`

	// State is failure or recovery.
	State HealthState `json:"state"`

	// Detail explains the failure (last upstream error, "empty result", ...).
	Detail string `json:"detail,omitempty"`

	// Region the failing request was for, if any.
	Region string `json:"region,omitempty"`

	// ItemCount is the number of records returned on recovery.
	ItemCount int `json:"item_count"`

	// Timestamp of the transition
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks if the HealthEvent is well-formed.
func (e *HealthEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}

	if e.ID == "" {
		return errors.New("id is required")
	}

	if e.APIName == "" {
		return errors.New("api_name is required")
	}

	if e.State != StateFailure && e.State != StateRecovery {
		return fmt.Errorf("invalid state: %s (must be failure or recovery)", e.State)
	}

	if e.ItemCount < 0 {
		return errors.New("item_count cannot be negative")
	}

	if e.Timestamp.IsZero() {
		return errors.New("timestamp cannot be zero")
	}

	return nil
}

// InvalidationEvent asks the emergency service to drop cached upstream responses.
// Published to TopicCacheInvalidate by the invalidation service.
//
// Invalidation modes:
//   - Exact keys: Keys within Family
//   - Pattern: Pattern within Family (e.g. "bed-json:서울*")
//   - Whole family: Family with neither Keys nor Pattern
//   - Everything: no Family, no Keys, no Pattern, All set
type InvalidationEvent struct {
	Version int `json:"version"`

	// Family is the cache family (e.g. "bed-info"). Empty only with All.
	Family string `json:"family,omitempty"`

	Keys    []string `json:"keys,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	All     bool     `json:"all,omitempty"`

	TriggeredAt time.Time `json:"triggered_at"`

	// RequestID for distributed tracing and correlation
	RequestID string `json:"request_id"`
}

// Validate checks if the InvalidationEvent is well-formed.
func (e *InvalidationEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}

	if e.Family == "" && !e.All {
		return errors.New("family is required unless all is set")
	}

	if e.All && (e.Family != "" || len(e.Keys) > 0 || e.Pattern != "") {
		return errors.New("all cannot be combined with family, keys or pattern")
	}

	if e.TriggeredAt.IsZero() {
		return errors.New("triggered_at cannot be zero")
	}

	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}

	return nil
}
