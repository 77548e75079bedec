package queueing

import (
	"context"
	"encoding/json"
)

// WorkItemData is the durable envelope moved by the queue. Type selects the
// handler; Data is the handler-specific payload.
type WorkItemData struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
	CorrelationId string          `json:"correlation_id"`
}

// Delivery is one at-least-once delivery of a work item. Exactly one of
// Complete or Abandon must be called; an item that is neither completed nor
// abandoned is redelivered after the visibility timeout.
type Delivery interface {
	Item() WorkItemData

	// Complete acknowledges the item; it will not be delivered again.
	Complete(ctx context.Context) error

	// Abandon returns the item to the queue for redelivery per the queue's
	// own backoff policy.
	Abandon(ctx context.Context) error
}

// Queue is typed, durable, at-least-once transport for work items.
type Queue interface {
	// Enqueue publishes the item and returns its queue-assigned id.
	Enqueue(ctx context.Context, item WorkItemData) (string, error)

	// Receive blocks delivering items to handler until ctx is cancelled.
	// handler is invoked concurrently up to the queue's outstanding limit.
	Receive(ctx context.Context, handler func(ctx context.Context, d Delivery)) error
}
