package emergency

import (
	"context"
	"fmt"

	encorepubsub "encore.dev/pubsub"

	"github.com/erboard/erboard/pkg/pubsub"
)

// UpstreamHealthTopic carries degraded/recovered transitions to the monitoring service.
var UpstreamHealthTopic = encorepubsub.NewTopic[*pubsub.HealthEvent](
	pubsub.TopicUpstreamHealth,
	encorepubsub.TopicConfig{
		DeliveryGuarantee: encorepubsub.AtLeastOnce,
	},
)

// topicNotifier publishes health transitions on UpstreamHealthTopic.
type topicNotifier struct{}

func (topicNotifier) Notify(ctx context.Context, event *pubsub.HealthEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid health event: %w", err)
	}
	if _, err := UpstreamHealthTopic.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish health event: %w", err)
	}
	return nil
}
