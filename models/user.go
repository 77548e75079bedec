package models

import (
	"context"

	"gorm.io/gorm"
)

type User struct {
	Id           string `gorm:"primaryKey;size:36" json:"id"`
	EmailAddress string `gorm:"index;size:255;not null" json:"email_address" binding:"required"`
	FullName     string `gorm:"size:100" json:"full_name"`

	// OrganizationIds lists every organization the user belongs to. A user
	// whose last membership is removed is deleted outright during
	// organization removal.
	OrganizationIds StringList `gorm:"type:json" json:"organization_ids"`

	IsActive *bool `gorm:"not null;default:true" json:"is_active"`

	Timestamps
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByOrganizationId(ctx context.Context, organizationId string) ([]*User, error) {
	var users []*User
	err := r.db.WithContext(ctx).
		Where("JSON_CONTAINS(organization_ids, JSON_QUOTE(?))", organizationId).
		Order("id ASC").
		Find(&users).Error
	return users, err
}

func (r *userRepository) Save(ctx context.Context, user *User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *userRepository) Remove(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&User{}).Error
}
