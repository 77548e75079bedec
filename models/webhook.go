package models

import (
	"context"

	"gorm.io/gorm"
)

// WebHook is a subscriber callback registration scoped to an organization.
type WebHook struct {
	Id             string     `gorm:"primaryKey;size:36" json:"id"`
	OrganizationId string     `gorm:"index;size:36;not null" json:"organization_id"`
	ProjectId      string     `gorm:"index;size:36" json:"project_id"`
	Url            string     `gorm:"size:2048;not null" json:"url" binding:"required"`
	EventTypes     StringList `gorm:"type:json" json:"event_types"`

	Timestamps
}

type webHookRepository struct {
	db *gorm.DB
}

func NewWebHookRepository(db *gorm.DB) WebHookRepository {
	return &webHookRepository{db: db}
}

func (r *webHookRepository) RemoveAllByOrganizationId(ctx context.Context, organizationId string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationId).
		Delete(&WebHook{})
	return res.RowsAffected, res.Error
}
