package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"bitbucket.org/mmdatafocus/events_backend/locking"
	"bitbucket.org/mmdatafocus/events_backend/models"
	"bitbucket.org/mmdatafocus/events_backend/pipeline"
	"bitbucket.org/mmdatafocus/events_backend/workitems"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventPostHandler runs an ingested event batch through the processing
// pipeline and persists what survives. It needs no lock: batches for the
// same project may process concurrently, the pipeline's shared state lives
// in the cache.
type EventPostHandler struct {
	db       *models.Database
	pipeline *pipeline.Pipeline
	logger   *logrus.Logger
}

func NewEventPostHandler(db *models.Database, p *pipeline.Pipeline, logger *logrus.Logger) *EventPostHandler {
	return &EventPostHandler{db: db, pipeline: p, logger: logger}
}

func (h *EventPostHandler) AcquireLock(ctx context.Context, data json.RawMessage) (locking.Lock, error) {
	return nil, nil
}

func (h *EventPostHandler) HandleItem(c *workitems.Context) error {
	var wi workitems.EventPostWorkItem
	if err := c.Bind(&wi); err != nil {
		return err
	}

	project, err := h.db.Projects.GetById(c, wi.ProjectId)
	if err != nil {
		return fmt.Errorf("loading project %s: %w", wi.ProjectId, err)
	}
	if project == nil {
		// Project deleted between ingest and processing; drop the batch.
		h.logger.WithFields(logrus.Fields{
			"module":     "handlers",
			"handler":    "EventPost",
			"project_id": wi.ProjectId,
		}).Warn("dropping event batch for missing project")
		return nil
	}

	contexts := make([]*pipeline.EventContext, 0, len(wi.Events))
	for _, posted := range wi.Events {
		id := posted.Id
		if id == "" {
			id = uuid.NewString()
		}
		contexts = append(contexts, &pipeline.EventContext{
			Event: &models.PersistentEvent{
				Id:              id,
				OrganizationId:  wi.OrganizationId,
				ProjectId:       wi.ProjectId,
				Type:            posted.Type,
				Source:          posted.Source,
				Message:         posted.Message,
				ClientIpAddress: posted.ClientIpAddress,
				Date:            posted.Date,
			},
			Project: project,
		})
	}

	h.pipeline.Run(c, contexts)

	for _, ec := range contexts {
		if ec.IsDiscarded {
			continue
		}
		if err := h.db.Events.Save(c, ec.Event); err != nil {
			return fmt.Errorf("saving event %s: %w", ec.Event.Id, err)
		}
	}
	return nil
}
