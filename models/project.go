package models

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Project struct {
	Id             string `gorm:"primaryKey;size:36" json:"id"`
	OrganizationId string `gorm:"index;size:36;not null" json:"organization_id"`
	Name           string `gorm:"size:100;not null" json:"name" binding:"required"`

	// DeleteBotDataEnabled is the per-project opt-in for the bot throttle.
	DeleteBotDataEnabled bool `gorm:"not null;default:false" json:"delete_bot_data_enabled"`

	Timestamps
}

type projectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

// GetById returns (nil, nil) when the project does not exist.
func (r *projectRepository) GetById(ctx context.Context, id string) (*Project, error) {
	var project Project
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &project, nil
}

func (r *projectRepository) GetByOrganizationId(ctx context.Context, organizationId string) ([]*Project, error) {
	var projects []*Project
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationId).
		Order("id ASC").
		Find(&projects).Error
	return projects, err
}

func (r *projectRepository) Save(ctx context.Context, project *Project) error {
	return r.db.WithContext(ctx).Save(project).Error
}

func (r *projectRepository) RemoveAll(ctx context.Context, projects []*Project) error {
	if len(projects) == 0 {
		return nil
	}
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.Id)
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Project{}).Error
}
