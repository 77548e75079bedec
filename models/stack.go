package models

import (
	"context"

	"bitbucket.org/mmdatafocus/events_backend/messaging"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Stack groups recurring events of the same signature within a project.
type Stack struct {
	Id             string `gorm:"primaryKey;size:36" json:"id"`
	OrganizationId string `gorm:"index;size:36;not null" json:"organization_id"`
	ProjectId      string `gorm:"index;size:36;not null" json:"project_id"`

	Title         string `gorm:"size:255" json:"title"`
	SignatureHash string `gorm:"index;size:64" json:"signature_hash"`
	TotalEvents   int64  `gorm:"not null;default:0" json:"total_events"`
	IsHidden      bool   `gorm:"not null;default:false" json:"is_hidden"`

	Timestamps
}

type stackRepository struct {
	db     *gorm.DB
	bus    messaging.MessageBus
	gate   messaging.PublishGate
	logger *logrus.Logger
}

func NewStackRepository(db *gorm.DB, bus messaging.MessageBus, gate messaging.PublishGate, logger *logrus.Logger) StackRepository {
	return &stackRepository{db: db, bus: bus, gate: gate, logger: logger}
}

func (r *stackRepository) Save(ctx context.Context, stack *Stack) error {
	if err := r.db.WithContext(ctx).Save(stack).Error; err != nil {
		return err
	}
	publishEntityChanged(ctx, r.bus, r.gate, r.logger, &messaging.EntityChanged{
		EntityType:     "Stack",
		Id:             stack.Id,
		OrganizationId: stack.OrganizationId,
		ProjectId:      stack.ProjectId,
		ChangeType:     messaging.ChangeTypeSaved,
	})
	return nil
}

func (r *stackRepository) RemoveAllByProjectId(ctx context.Context, organizationId string, projectId string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("organization_id = ? AND project_id = ?", organizationId, projectId).
		Delete(&Stack{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		publishEntityChanged(ctx, r.bus, r.gate, r.logger, &messaging.EntityChanged{
			EntityType:     "Stack",
			OrganizationId: organizationId,
			ProjectId:      projectId,
			ChangeType:     messaging.ChangeTypeRemovedAll,
		})
	}
	return res.RowsAffected, nil
}
