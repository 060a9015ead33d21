package emergency

import (
	"context"

	encorepubsub "encore.dev/pubsub"
	"go.uber.org/zap"

	"github.com/erboard/erboard/invalidation"
	"github.com/erboard/erboard/pkg/pubsub"
)

var _ = encorepubsub.NewSubscription(
	invalidation.CacheInvalidateTopic,
	"emergency-cache-invalidate",
	encorepubsub.SubscriptionConfig[*pubsub.InvalidationEvent]{
		Handler: HandleInvalidation,
	},
)

// HandleInvalidation applies an admin invalidation to the local caches.
func HandleInvalidation(ctx context.Context, event *pubsub.InvalidationEvent) error {
	s, err := initService()
	if err != nil {
		return err
	}
	_, err = s.ApplyInvalidation(event)
	return err
}

// ApplyInvalidation drops the entries event selects and returns how many went.
// Unknown families are logged and ignored so the message is not redelivered.
func (s *Service) ApplyInvalidation(event *pubsub.InvalidationEvent) (int, error) {
	if err := event.Validate(); err != nil {
		s.logger.Warn("dropping invalid invalidation event", zap.Error(err))
		return 0, nil
	}
	log := s.logger.With(zap.String("request_id", event.RequestID))

	if event.All {
		removed := 0
		for _, snap := range s.caches.Snapshots() {
			removed += snap.Size
		}
		s.caches.ClearAll()
		log.Info("cleared every cache family", zap.Int("removed", removed))
		return removed, nil
	}

	store, err := s.caches.Store(event.Family)
	if err != nil {
		log.Warn("invalidation for unknown cache family", zap.String("family", event.Family))
		return 0, nil
	}

	removed := 0
	switch {
	case len(event.Keys) == 0 && event.Pattern == "":
		removed = store.Len()
		store.Clear()
	default:
		for _, key := range event.Keys {
			if store.Delete(key) {
				removed++
			}
		}
		if event.Pattern != "" {
			removed += store.DeletePattern(event.Pattern)
		}
	}

	log.Info("cache invalidated",
		zap.String("family", event.Family),
		zap.Int("keys", len(event.Keys)),
		zap.String("pattern", event.Pattern),
		zap.Int("removed", removed),
	)
	return removed, nil
}
