package queueing

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
)

// PubSubQueue carries work items over a Pub/Sub topic + subscription pair.
// The subscription's ack deadline is the visibility timeout: items that are
// neither acked nor nacked are redelivered when it lapses.
type PubSubQueue struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *logrus.Logger
}

func NewPubSubQueue(topic *pubsub.Topic, sub *pubsub.Subscription, maxOutstanding int, logger *logrus.Logger) *PubSubQueue {
	if maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}
	return &PubSubQueue{topic: topic, sub: sub, logger: logger}
}

func (q *PubSubQueue) Enqueue(ctx context.Context, item WorkItemData) (string, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("marshal work item: %w", err)
	}
	res := q.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":           item.Type,
			"correlation_id": item.CorrelationId,
		},
	})
	return res.Get(ctx)
}

func (q *PubSubQueue) Receive(ctx context.Context, handler func(ctx context.Context, d Delivery)) error {
	return q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var item WorkItemData
		if err := json.Unmarshal(msg.Data, &item); err != nil {
			q.logger.WithFields(logrus.Fields{
				"module":     "queueing",
				"funcName":   "Receive",
				"message_id": msg.ID,
			}).Error("unmarshaling work item: " + err.Error())
			// Malformed payloads never become parseable; drop them.
			msg.Ack()
			return
		}
		handler(ctx, &pubsubDelivery{item: item, msg: msg})
	})
}

type pubsubDelivery struct {
	item WorkItemData
	msg  *pubsub.Message
}

func (d *pubsubDelivery) Item() WorkItemData { return d.item }

func (d *pubsubDelivery) Complete(ctx context.Context) error {
	d.msg.Ack()
	return nil
}

func (d *pubsubDelivery) Abandon(ctx context.Context) error {
	d.msg.Nack()
	return nil
}
