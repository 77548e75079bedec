package handlers

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/billing"
	"bitbucket.org/mmdatafocus/events_backend/locking"
	"bitbucket.org/mmdatafocus/events_backend/messaging"
	"bitbucket.org/mmdatafocus/events_backend/models"
	"bitbucket.org/mmdatafocus/events_backend/queueing"
	"bitbucket.org/mmdatafocus/events_backend/workitems"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func handlerContext(t *testing.T, itemType string, payload any, bus messaging.MessageBus) *workitems.Context {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	item := queueing.WorkItemData{Type: itemType, Data: data, CorrelationId: "corr-1"}
	return workitems.NewContext(context.Background(), item, bus, testLogger())
}

// singleLockProvider hands out locks that fail while a previous one for the
// same key is still held.
type singleLockProvider struct {
	held     map[string]bool
	acquired []string
}

func newSingleLockProvider() *singleLockProvider {
	return &singleLockProvider{held: map[string]bool{}}
}

func (p *singleLockProvider) Acquire(ctx context.Context, key string, duration, acquireTimeout time.Duration) (locking.Lock, error) {
	if p.held[key] {
		return nil, locking.ErrNotObtained
	}
	p.held[key] = true
	p.acquired = append(p.acquired, key)
	return &providerLock{provider: p, key: key}, nil
}

type providerLock struct {
	provider *singleLockProvider
	key      string
}

func (l *providerLock) Renew(ctx context.Context, extension time.Duration) error { return nil }

func (l *providerLock) Release(ctx context.Context) error {
	delete(l.provider.held, l.key)
	return nil
}

type fakeOrganizationRepo struct {
	orgs    map[string]*models.Organization
	removed []string
}

func (r *fakeOrganizationRepo) GetById(ctx context.Context, id string) (*models.Organization, error) {
	return r.orgs[id], nil
}

func (r *fakeOrganizationRepo) Save(ctx context.Context, org *models.Organization) error {
	r.orgs[org.Id] = org
	return nil
}

func (r *fakeOrganizationRepo) Remove(ctx context.Context, id string) error {
	delete(r.orgs, id)
	r.removed = append(r.removed, id)
	return nil
}

func (r *fakeOrganizationRepo) GetByRetentionDaysEnabled(ctx context.Context, pageLimit int) (*models.OrganizationPage, error) {
	return models.NewOrganizationPage(), nil
}

type fakeProjectRepo struct {
	projects   []*models.Project
	removedAll bool
}

func (r *fakeProjectRepo) GetById(ctx context.Context, id string) (*models.Project, error) {
	for _, p := range r.projects {
		if p.Id == id {
			return p, nil
		}
	}
	return nil, nil
}

func (r *fakeProjectRepo) GetByOrganizationId(ctx context.Context, organizationId string) ([]*models.Project, error) {
	var out []*models.Project
	for _, p := range r.projects {
		if p.OrganizationId == organizationId {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) Save(ctx context.Context, project *models.Project) error {
	r.projects = append(r.projects, project)
	return nil
}

func (r *fakeProjectRepo) RemoveAll(ctx context.Context, projects []*models.Project) error {
	r.removedAll = true
	r.projects = nil
	return nil
}

type fakeEventRepo struct {
	saved            []*models.PersistentEvent
	removedProjects  []string
	removedByIpCalls []removeByIpCall
	removedByIp      int64
}

type removeByIpCall struct {
	organizationId string
	clientIp       string
	start, end     time.Time
}

func (r *fakeEventRepo) Save(ctx context.Context, event *models.PersistentEvent) error {
	r.saved = append(r.saved, event)
	return nil
}

func (r *fakeEventRepo) RemoveAllByDate(ctx context.Context, organizationId string, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeEventRepo) RemoveAllByClientIpAndDate(ctx context.Context, organizationId, clientIpAddress string, start, end time.Time) (int64, error) {
	r.removedByIpCalls = append(r.removedByIpCalls, removeByIpCall{organizationId, clientIpAddress, start, end})
	return r.removedByIp, nil
}

func (r *fakeEventRepo) RemoveAllByProjectId(ctx context.Context, organizationId, projectId string) (int64, error) {
	r.removedProjects = append(r.removedProjects, projectId)
	return 0, nil
}

type fakeStackRepo struct {
	removedProjects []string
}

func (r *fakeStackRepo) Save(ctx context.Context, stack *models.Stack) error { return nil }

func (r *fakeStackRepo) RemoveAllByProjectId(ctx context.Context, organizationId, projectId string) (int64, error) {
	r.removedProjects = append(r.removedProjects, projectId)
	return 0, nil
}

type fakeUserRepo struct {
	users   []*models.User
	removed []string
	saved   []*models.User
}

func (r *fakeUserRepo) GetByOrganizationId(ctx context.Context, organizationId string) ([]*models.User, error) {
	var out []*models.User
	for _, u := range r.users {
		if u.OrganizationIds.Contains(organizationId) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) Save(ctx context.Context, user *models.User) error {
	r.saved = append(r.saved, user)
	return nil
}

func (r *fakeUserRepo) Remove(ctx context.Context, id string) error {
	r.removed = append(r.removed, id)
	return nil
}

type fakeTokenRepo struct {
	removedOrgs []string
}

func (r *fakeTokenRepo) RemoveAllByOrganizationId(ctx context.Context, organizationId string) (int64, error) {
	r.removedOrgs = append(r.removedOrgs, organizationId)
	return 0, nil
}

type fakeWebHookRepo struct {
	removedOrgs []string
}

func (r *fakeWebHookRepo) RemoveAllByOrganizationId(ctx context.Context, organizationId string) (int64, error) {
	r.removedOrgs = append(r.removedOrgs, organizationId)
	return 0, nil
}

type fakeSubscriptionService struct {
	subscriptions []billing.Subscription
	canceled      []string
}

func (s *fakeSubscriptionService) ListByCustomer(ctx context.Context, customerId string) ([]billing.Subscription, error) {
	return s.subscriptions, nil
}

func (s *fakeSubscriptionService) Cancel(ctx context.Context, subscriptionId string) error {
	s.canceled = append(s.canceled, subscriptionId)
	return nil
}

type fakeRepos struct {
	orgs     *fakeOrganizationRepo
	projects *fakeProjectRepo
	events   *fakeEventRepo
	stacks   *fakeStackRepo
	users    *fakeUserRepo
	tokens   *fakeTokenRepo
	webhooks *fakeWebHookRepo
}

func newFakeDatabase() (*models.Database, *fakeRepos) {
	repos := &fakeRepos{
		orgs:     &fakeOrganizationRepo{orgs: map[string]*models.Organization{}},
		projects: &fakeProjectRepo{},
		events:   &fakeEventRepo{},
		stacks:   &fakeStackRepo{},
		users:    &fakeUserRepo{},
		tokens:   &fakeTokenRepo{},
		webhooks: &fakeWebHookRepo{},
	}
	db := &models.Database{
		Organizations: repos.orgs,
		Projects:      repos.projects,
		Events:        repos.events,
		Stacks:        repos.stacks,
		Users:         repos.users,
		Tokens:        repos.tokens,
		WebHooks:      repos.webhooks,
	}
	return db, repos
}
