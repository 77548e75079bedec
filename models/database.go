package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/messaging"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OrganizationRepository is the tenant root.
type OrganizationRepository interface {
	GetById(ctx context.Context, id string) (*Organization, error)
	Save(ctx context.Context, org *Organization) error
	Remove(ctx context.Context, id string) error
	GetByRetentionDaysEnabled(ctx context.Context, pageLimit int) (*OrganizationPage, error)
}

type ProjectRepository interface {
	GetById(ctx context.Context, id string) (*Project, error)
	GetByOrganizationId(ctx context.Context, organizationId string) ([]*Project, error)
	Save(ctx context.Context, project *Project) error
	RemoveAll(ctx context.Context, projects []*Project) error
}

type EventRepository interface {
	Save(ctx context.Context, event *PersistentEvent) error
	RemoveAllByDate(ctx context.Context, organizationId string, cutoff time.Time) (int64, error)
	RemoveAllByClientIpAndDate(ctx context.Context, organizationId string, clientIpAddress string, start, end time.Time) (int64, error)
	RemoveAllByProjectId(ctx context.Context, organizationId string, projectId string) (int64, error)
}

type StackRepository interface {
	Save(ctx context.Context, stack *Stack) error
	RemoveAllByProjectId(ctx context.Context, organizationId string, projectId string) (int64, error)
}

type UserRepository interface {
	GetByOrganizationId(ctx context.Context, organizationId string) ([]*User, error)
	Save(ctx context.Context, user *User) error
	Remove(ctx context.Context, id string) error
}

type TokenRepository interface {
	RemoveAllByOrganizationId(ctx context.Context, organizationId string) (int64, error)
}

type WebHookRepository interface {
	RemoveAllByOrganizationId(ctx context.Context, organizationId string) (int64, error)
}

// Database bundles the per-entity repositories. Jobs and handlers depend on
// this aggregate, not on gorm, so tests swap in fakes per field.
type Database struct {
	Organizations OrganizationRepository
	Projects      ProjectRepository
	Events        EventRepository
	Stacks        StackRepository
	Users         UserRepository
	Tokens        TokenRepository
	WebHooks      WebHookRepository
}

// NewDatabase wires the gorm-backed repositories. The publish gate is
// resolved once here; the Event and Stack repositories are the only ones
// that broadcast entity-changed messages.
func NewDatabase(db *gorm.DB, bus messaging.MessageBus, gate messaging.PublishGate, logger *logrus.Logger) *Database {
	return &Database{
		Organizations: NewOrganizationRepository(db),
		Projects:      NewProjectRepository(db),
		Events:        NewEventRepository(db, bus, gate, logger),
		Stacks:        NewStackRepository(db, bus, gate, logger),
		Users:         NewUserRepository(db),
		Tokens:        NewTokenRepository(db),
		WebHooks:      NewWebHookRepository(db),
	}
}

// MigrateTable creates/updates the schema on startup.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Organization{},
		&Project{},
		&PersistentEvent{},
		&Stack{},
		&User{},
		&Token{},
		&WebHook{},
	)
}
