package models

import (
	"context"

	"gorm.io/gorm"
)

// Token is an API access token scoped to an organization (and optionally a
// single project).
type Token struct {
	Id             string `gorm:"primaryKey;size:64" json:"id"`
	OrganizationId string `gorm:"index;size:36;not null" json:"organization_id"`
	ProjectId      string `gorm:"index;size:36" json:"project_id"`
	UserId         string `gorm:"index;size:36" json:"user_id"`
	Notes          string `gorm:"size:255" json:"notes"`

	Timestamps
}

type tokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) RemoveAllByOrganizationId(ctx context.Context, organizationId string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationId).
		Delete(&Token{})
	return res.RowsAffected, res.Error
}
