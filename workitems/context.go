package workitems

import (
	"context"
	"encoding/json"
	"fmt"

	"bitbucket.org/mmdatafocus/events_backend/messaging"
	"bitbucket.org/mmdatafocus/events_backend/queueing"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

var payloadValidator = validator.New()

// Context is the per-attempt handler context: the typed payload, a
// cancellation signal derived from processor shutdown and the item timeout,
// and the fire-and-forget progress side-channel.
type Context struct {
	context.Context

	Item   queueing.WorkItemData
	Logger *logrus.Logger

	bus messaging.MessageBus
}

func NewContext(ctx context.Context, item queueing.WorkItemData, bus messaging.MessageBus, logger *logrus.Logger) *Context {
	return &Context{
		Context: ctx,
		Item:    item,
		Logger:  logger,
		bus:     bus,
	}
}

// Bind unmarshals and validates the payload into v.
func (c *Context) Bind(v any) error {
	if err := json.Unmarshal(c.Item.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", c.Item.Type, err)
	}
	if err := payloadValidator.Struct(v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", c.Item.Type, err)
	}
	return nil
}

// ReportProgress publishes a status message for external observers. Failures
// are logged and swallowed: progress is best-effort status, not a success
// signal.
func (c *Context) ReportProgress(progress int, message string) {
	if c.bus == nil {
		return
	}
	err := c.bus.PublishWorkItemStatus(c.Context, &messaging.WorkItemStatus{
		WorkItemId:    c.Item.CorrelationId,
		Type:          c.Item.Type,
		Progress:      progress,
		Message:       message,
		CorrelationId: c.Item.CorrelationId,
	})
	if err != nil && c.Logger != nil {
		c.Logger.WithFields(logrus.Fields{
			"module":         "workitems",
			"type":           c.Item.Type,
			"correlation_id": c.Item.CorrelationId,
			"progress":       progress,
		}).Warn("reporting work item progress: " + err.Error())
	}
}
