package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/messaging"
	"bitbucket.org/mmdatafocus/events_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PersistentEvent is one ingested error/telemetry event.
type PersistentEvent struct {
	Id             string `gorm:"primaryKey;size:36" json:"id"`
	OrganizationId string `gorm:"index;size:36;not null" json:"organization_id"`
	ProjectId      string `gorm:"index;size:36;not null" json:"project_id"`
	StackId        string `gorm:"index;size:36" json:"stack_id"`

	Type    string `gorm:"size:50" json:"type"`
	Source  string `gorm:"size:255" json:"source"`
	Message string `gorm:"type:text" json:"message"`

	// ClientIpAddress is the submitting client's address as seen at ingest;
	// empty when the event carried no request info.
	ClientIpAddress string `gorm:"index;size:45" json:"client_ip_address"`

	// IsHidden excludes the event from normal visibility and alerting
	// (bot throttle, manual hiding).
	IsHidden bool `gorm:"not null;default:false" json:"is_hidden"`

	Date time.Time `gorm:"index;not null" json:"date"`

	Timestamps
}

type eventRepository struct {
	db     *gorm.DB
	bus    messaging.MessageBus
	gate   messaging.PublishGate
	logger *logrus.Logger
}

func NewEventRepository(db *gorm.DB, bus messaging.MessageBus, gate messaging.PublishGate, logger *logrus.Logger) EventRepository {
	return &eventRepository{db: db, bus: bus, gate: gate, logger: logger}
}

func (r *eventRepository) Save(ctx context.Context, event *PersistentEvent) error {
	if err := r.db.WithContext(ctx).Save(event).Error; err != nil {
		return err
	}
	publishEntityChanged(ctx, r.bus, r.gate, r.logger, &messaging.EntityChanged{
		EntityType:     "PersistentEvent",
		Id:             event.Id,
		OrganizationId: event.OrganizationId,
		ProjectId:      event.ProjectId,
		StackId:        event.StackId,
		ChangeType:     messaging.ChangeTypeSaved,
	})
	return nil
}

func (r *eventRepository) RemoveAllByDate(ctx context.Context, organizationId string, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("organization_id = ? AND date <= ?", organizationId, cutoff).
		Delete(&PersistentEvent{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		publishEntityChanged(ctx, r.bus, r.gate, r.logger, &messaging.EntityChanged{
			EntityType:     "PersistentEvent",
			OrganizationId: organizationId,
			ChangeType:     messaging.ChangeTypeRemovedAll,
		})
	}
	return res.RowsAffected, nil
}

func (r *eventRepository) RemoveAllByClientIpAndDate(ctx context.Context, organizationId string, clientIpAddress string, start, end time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("organization_id = ? AND client_ip_address = ? AND date >= ? AND date < ?",
			organizationId, clientIpAddress, start, end).
		Delete(&PersistentEvent{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		publishEntityChanged(ctx, r.bus, r.gate, r.logger, &messaging.EntityChanged{
			EntityType:     "PersistentEvent",
			OrganizationId: organizationId,
			ChangeType:     messaging.ChangeTypeRemovedAll,
		})
	}
	return res.RowsAffected, nil
}

func (r *eventRepository) RemoveAllByProjectId(ctx context.Context, organizationId string, projectId string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("organization_id = ? AND project_id = ?", organizationId, projectId).
		Delete(&PersistentEvent{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		publishEntityChanged(ctx, r.bus, r.gate, r.logger, &messaging.EntityChanged{
			EntityType:     "PersistentEvent",
			OrganizationId: organizationId,
			ProjectId:      projectId,
			ChangeType:     messaging.ChangeTypeRemovedAll,
		})
	}
	return res.RowsAffected, nil
}

// publishEntityChanged runs a change notification through the publish gate
// and the bus. Broadcast failures are logged, never propagated: callers'
// writes have already committed and the bus is not a delivery guarantee.
func publishEntityChanged(ctx context.Context, bus messaging.MessageBus, gate messaging.PublishGate, logger *logrus.Logger, message *messaging.EntityChanged) {
	if bus == nil {
		return
	}
	message.CorrelationId = utils.CorrelationIdFromContextOrNew(ctx)
	if gate != nil && !gate.ShouldPublish(ctx, message) {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"module":          "models",
				"entity_type":     message.EntityType,
				"organization_id": message.OrganizationId,
			}).Trace("entity changed message suppressed: no listeners")
		}
		return
	}
	if err := bus.PublishEntityChanged(ctx, message); err != nil && logger != nil {
		logger.WithFields(logrus.Fields{
			"module":          "models",
			"entity_type":     message.EntityType,
			"organization_id": message.OrganizationId,
		}).Error("publishing entity changed message: " + err.Error())
	}
}
