package pubsub

import (
	"testing"
	"time"
)

func TestHealthEvent_Validate(t *testing.T) {
	now := time.Now()

	valid := func() HealthEvent {
		return HealthEvent{
			Version:   EventVersion1,
			ID:        "evt-1",
			APIName:   "병상정보 조회",
			State:     StateFailure,
			Detail:    "HTTP 500",
			Region:    "서울특별시",
			Timestamp: now,
		}
	}

	tests := []struct {
		name    string
		mutate  func(e *HealthEvent)
		wantErr bool
	}{
		{name: "valid failure", mutate: func(*HealthEvent) {}},
		{name: "valid recovery", mutate: func(e *HealthEvent) { e.State = StateRecovery; e.ItemCount = 12 }},
		{name: "invalid version", mutate: func(e *HealthEvent) { e.Version = 999 }, wantErr: true},
		{name: "missing id", mutate: func(e *HealthEvent) { e.ID = "" }, wantErr: true},
		{name: "missing api name", mutate: func(e *HealthEvent) { e.APIName = "" }, wantErr: true},
		{name: "unknown state", mutate: func(e *HealthEvent) { e.State = "flapping" }, wantErr: true},
		{name: "negative items", mutate: func(e *HealthEvent) { e.ItemCount = -1 }, wantErr: true},
		{name: "zero timestamp", mutate: func(e *HealthEvent) { e.Timestamp = time.Time{} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInvalidationEvent_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		event   InvalidationEvent
		wantErr bool
	}{
		{
			name: "keys in family",
			event: InvalidationEvent{
				Version:     EventVersion1,
				Family:      "bed-info",
				Keys:        []string{"bed-json:서울:"},
				TriggeredAt: now,
				RequestID:   "req-1",
			},
		},
		{
			name: "whole family",
			event: InvalidationEvent{
				Version:     EventVersion1,
				Family:      "emergency-messages",
				TriggeredAt: now,
				RequestID:   "req-2",
			},
		},
		{
			name: "everything",
			event: InvalidationEvent{
				Version:     EventVersion1,
				All:         true,
				TriggeredAt: now,
				RequestID:   "req-3",
			},
		},
		{
			name: "no family",
			event: InvalidationEvent{
				Version:     EventVersion1,
				Pattern:     "bed-json:*",
				TriggeredAt: now,
				RequestID:   "req-4",
			},
			wantErr: true,
		},
		{
			name: "all with pattern",
			event: InvalidationEvent{
				Version:     EventVersion1,
				All:         true,
				Pattern:     "bed-json:*",
				TriggeredAt: now,
				RequestID:   "req-5",
			},
			wantErr: true,
		},
		{
			name: "missing request_id",
			event: InvalidationEvent{
				Version:     EventVersion1,
				Family:      "bed-info",
				TriggeredAt: now,
			},
			wantErr: true,
		},
		{
			name: "zero triggered_at",
			event: InvalidationEvent{
				Version:   EventVersion1,
				Family:    "bed-info",
				RequestID: "req-6",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsValidTopic(t *testing.T) {
	for _, topic := range AllTopics() {
		if !IsValidTopic(topic) {
			t.Errorf("IsValidTopic(%q) = false", topic)
		}
	}
	if IsValidTopic("cache.refresh") {
		t.Error("IsValidTopic(cache.refresh) = true")
	}
}
