package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSubMessageBus publishes entity-changed and work-item-status messages on
// their own Pub/Sub topics.
type PubSubMessageBus struct {
	entityChangedTopic  *pubsub.Topic
	workItemStatusTopic *pubsub.Topic
}

func NewPubSubMessageBus(entityChangedTopic, workItemStatusTopic *pubsub.Topic) *PubSubMessageBus {
	return &PubSubMessageBus{
		entityChangedTopic:  entityChangedTopic,
		workItemStatusTopic: workItemStatusTopic,
	}
}

func (b *PubSubMessageBus) PublishEntityChanged(ctx context.Context, message *EntityChanged) error {
	return publishJSON(ctx, b.entityChangedTopic, message, map[string]string{
		"entity_type": message.EntityType,
		"change_type": string(message.ChangeType),
	})
}

func (b *PubSubMessageBus) PublishWorkItemStatus(ctx context.Context, status *WorkItemStatus) error {
	return publishJSON(ctx, b.workItemStatusTopic, status, map[string]string{
		"type": status.Type,
	})
}

func publishJSON(ctx context.Context, topic *pubsub.Topic, payload any, attributes map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	res := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes})
	_, err = res.Get(ctx)
	return err
}
