package models

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Organization struct {
	Id   string `gorm:"primaryKey;size:36" json:"id"`
	Name string `gorm:"index;size:100;not null" json:"name" binding:"required"`

	// RetentionDays comes from the billing plan; zero means unlimited
	// retention and excludes the organization from the retention sweep.
	RetentionDays int `gorm:"index;not null;default:0" json:"retention_days"`

	PlanId            string `gorm:"size:50" json:"plan_id"`
	BillingCustomerId string `gorm:"size:100" json:"billing_customer_id"`
	IsSuspended       *bool  `gorm:"not null;default:false" json:"is_suspended"`

	Timestamps
}

type organizationRepository struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &organizationRepository{db: db}
}

// GetById returns (nil, nil) when the organization does not exist.
func (r *organizationRepository) GetById(ctx context.Context, id string) (*Organization, error) {
	var org Organization
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

func (r *organizationRepository) Save(ctx context.Context, org *Organization) error {
	return r.db.WithContext(ctx).Save(org).Error
}

func (r *organizationRepository) Remove(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&Organization{}).Error
}

// GetByRetentionDaysEnabled pages through organizations with finite
// retention, keyset-ordered by id so a sweep sees each tenant once even
// while rows churn.
func (r *organizationRepository) GetByRetentionDaysEnabled(ctx context.Context, pageLimit int) (*OrganizationPage, error) {
	if pageLimit <= 0 {
		pageLimit = 100
	}
	return r.retentionPageAfter(ctx, "", pageLimit)
}

func (r *organizationRepository) retentionPageAfter(ctx context.Context, afterId string, pageLimit int) (*OrganizationPage, error) {
	q := r.db.WithContext(ctx).
		Where("retention_days > 0").
		Order("id ASC").
		Limit(pageLimit)
	if afterId != "" {
		q = q.Where("id > ?", afterId)
	}

	var docs []*Organization
	if err := q.Find(&docs).Error; err != nil {
		return nil, err
	}

	page := &OrganizationPage{Documents: docs}
	if len(docs) == pageLimit {
		lastId := docs[len(docs)-1].Id
		page.next = func(ctx context.Context) (*OrganizationPage, error) {
			return r.retentionPageAfter(ctx, lastId, pageLimit)
		}
	}
	return page, nil
}

// OrganizationPage is one page of a paginated organization scan.
type OrganizationPage struct {
	Documents []*Organization
	next      func(ctx context.Context) (*OrganizationPage, error)
}

// HasNextPage reports whether another page may exist.
func (p *OrganizationPage) HasNextPage() bool {
	return p.next != nil
}

// NextPage fetches the following page. Returns (nil, nil) when the scan is
// exhausted.
func (p *OrganizationPage) NextPage(ctx context.Context) (*OrganizationPage, error) {
	if p.next == nil {
		return nil, nil
	}
	return p.next(ctx)
}

// NewOrganizationPage builds a page chain from pre-sliced pages. Test use.
func NewOrganizationPage(pages ...[]*Organization) *OrganizationPage {
	if len(pages) == 0 {
		return &OrganizationPage{}
	}
	page := &OrganizationPage{Documents: pages[0]}
	if len(pages) > 1 {
		rest := pages[1:]
		page.next = func(ctx context.Context) (*OrganizationPage, error) {
			return NewOrganizationPage(rest...), nil
		}
	}
	return page
}
