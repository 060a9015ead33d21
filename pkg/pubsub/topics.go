// Package pubsub provides topic names and event types shared by the emergency,
// invalidation and monitoring services.
//
// Topics:
//   - upstream-health: degraded/recovered transitions of upstream APIs
//   - cache-invalidate: admin-triggered cache invalidation
//
// No Encore imports here; services declare the pubsub.Topic[T] values themselves.
package pubsub

const (
	// TopicUpstreamHealth carries HealthEvent.
	// Publishers: emergency
	// Subscribers: monitoring
	TopicUpstreamHealth = "upstream-health"

	// TopicCacheInvalidate carries InvalidationEvent.
	// Publishers: invalidation
	// Subscribers: emergency
	TopicCacheInvalidate = "cache-invalidate"
)

// AllTopics returns all defined topic names.
func AllTopics() []string {
	return []string{
		TopicUpstreamHealth,
		TopicCacheInvalidate,
	}
}

// IsValidTopic checks if the given topic name is recognized.
func IsValidTopic(topic string) bool {
	for _, t := range AllTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
