package jobs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/caching"
	"bitbucket.org/mmdatafocus/events_backend/config"
	"bitbucket.org/mmdatafocus/events_backend/locking"
	"bitbucket.org/mmdatafocus/events_backend/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type retentionOrgRepo struct {
	pages *models.OrganizationPage
}

func (r *retentionOrgRepo) GetById(ctx context.Context, id string) (*models.Organization, error) {
	return nil, nil
}

func (r *retentionOrgRepo) Save(ctx context.Context, org *models.Organization) error { return nil }

func (r *retentionOrgRepo) Remove(ctx context.Context, id string) error { return nil }

func (r *retentionOrgRepo) GetByRetentionDaysEnabled(ctx context.Context, pageLimit int) (*models.OrganizationPage, error) {
	return r.pages, nil
}

type retentionEventRepo struct {
	cutoffs map[string]time.Time
	failFor string
	calls   []string
}

func (r *retentionEventRepo) Save(ctx context.Context, event *models.PersistentEvent) error {
	return nil
}

func (r *retentionEventRepo) RemoveAllByDate(ctx context.Context, organizationId string, cutoff time.Time) (int64, error) {
	r.calls = append(r.calls, organizationId)
	if r.cutoffs == nil {
		r.cutoffs = map[string]time.Time{}
	}
	r.cutoffs[organizationId] = cutoff
	if organizationId == r.failFor {
		return 0, errors.New("storage down")
	}
	return 3, nil
}

func (r *retentionEventRepo) RemoveAllByClientIpAndDate(ctx context.Context, organizationId, clientIpAddress string, start, end time.Time) (int64, error) {
	return 0, nil
}

func (r *retentionEventRepo) RemoveAllByProjectId(ctx context.Context, organizationId, projectId string) (int64, error) {
	return 0, nil
}

// countingLockProvider wraps a lock to observe renewals.
type countingLockProvider struct {
	acquired int
	lock     *countingLock
	err      error
}

type countingLock struct {
	renewed  int
	released int
}

func (l *countingLock) Renew(ctx context.Context, extension time.Duration) error {
	l.renewed++
	return nil
}

func (l *countingLock) Release(ctx context.Context) error {
	l.released++
	return nil
}

func (p *countingLockProvider) Acquire(ctx context.Context, key string, duration, acquireTimeout time.Duration) (locking.Lock, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.acquired++
	p.lock = &countingLock{}
	return p.lock, nil
}

func retentionTestJob(pages *models.OrganizationPage, events *retentionEventRepo, provider locking.Provider) *RetentionLimitsJob {
	cfg := &config.Config{
		AppMode:           config.AppModeProduction,
		RetentionPageSize: 100,
	}
	db := &models.Database{
		Organizations: &retentionOrgRepo{pages: pages},
		Events:        events,
	}
	job := NewRetentionLimitsJob(cfg, db, provider, testLogger())
	job.sleepFunc = func(ctx context.Context, d time.Duration) {}
	return job
}

func TestRetention_CutoffRespectsOrgAndGlobalMaximum(t *testing.T) {
	pages := models.NewOrganizationPage([]*models.Organization{
		{Id: "org30", Name: "Thirty", RetentionDays: 30},
		{Id: "org365", Name: "Year", RetentionDays: 365},
	})
	events := &retentionEventRepo{}
	job := retentionTestJob(pages, events, &countingLockProvider{})
	job.cfg.MaximumRetentionDays = 90
	now := time.Date(2026, 3, 14, 13, 45, 0, 0, time.UTC)
	job.nowFunc = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if got, want := events.cutoffs["org30"], day.AddDate(0, 0, -30); !got.Equal(want) {
		t.Errorf("org30 cutoff = %v, want %v", got, want)
	}
	// 365 exceeds the deployment maximum of 90.
	if got, want := events.cutoffs["org365"], day.AddDate(0, 0, -90); !got.Equal(want) {
		t.Errorf("org365 cutoff = %v, want %v", got, want)
	}
}

func TestRetention_OneTenantFailureDoesNotAbortSweep(t *testing.T) {
	pages := models.NewOrganizationPage([]*models.Organization{
		{Id: "org1", RetentionDays: 30},
		{Id: "org2", RetentionDays: 30},
		{Id: "org3", RetentionDays: 30},
	})
	events := &retentionEventRepo{failFor: "org2"}
	job := retentionTestJob(pages, events, &countingLockProvider{})
	logger, hook := test.NewNullLogger()
	job.logger = logger

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(events.calls) != 3 {
		t.Fatalf("calls = %v, want all three organizations", events.calls)
	}

	// The contained failure is logged with the tenant it belonged to.
	var errorEntries []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorEntries = append(errorEntries, e)
		}
	}
	if len(errorEntries) != 1 {
		t.Fatalf("error entries = %d, want 1", len(errorEntries))
	}
	if errorEntries[0].Data["organization_id"] != "org2" {
		t.Errorf("error entry fields = %+v, want organization_id org2", errorEntries[0].Data)
	}
}

func TestRetention_NoGlobalMaximum_PlanRetentionUncapped(t *testing.T) {
	pages := models.NewOrganizationPage([]*models.Organization{
		{Id: "org365", Name: "Year", RetentionDays: 365},
	})
	events := &retentionEventRepo{}
	job := retentionTestJob(pages, events, &countingLockProvider{})
	// MaximumRetentionDays zero: the plan's own period applies as-is.
	now := time.Date(2026, 3, 14, 13, 45, 0, 0, time.UTC)
	job.nowFunc = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if got, want := events.cutoffs["org365"], day.AddDate(0, 0, -365); !got.Equal(want) {
		t.Errorf("cutoff = %v, want %v", got, want)
	}
}

func TestRetention_LockRenewedBetweenPages(t *testing.T) {
	pages := models.NewOrganizationPage(
		[]*models.Organization{{Id: "org1", RetentionDays: 30}},
		[]*models.Organization{{Id: "org2", RetentionDays: 30}},
		[]*models.Organization{{Id: "org3", RetentionDays: 30}},
	)
	events := &retentionEventRepo{}
	provider := &countingLockProvider{}
	job := retentionTestJob(pages, events, provider)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(events.calls) != 3 {
		t.Fatalf("calls = %v, want all pages walked", events.calls)
	}
	// Two page transitions, one renewal each.
	if provider.lock.renewed != 2 {
		t.Errorf("renewed = %d, want 2", provider.lock.renewed)
	}
	if provider.lock.released != 1 {
		t.Errorf("released = %d, want 1", provider.lock.released)
	}
}

func TestRetention_GuardHeld_SkipsQuietly(t *testing.T) {
	events := &retentionEventRepo{}
	provider := &countingLockProvider{err: locking.ErrNotObtained}
	job := retentionTestJob(models.NewOrganizationPage(), events, provider)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run should treat a held guard as a no-op, got %v", err)
	}
	if len(events.calls) != 0 {
		t.Fatal("sweep ran without the guard lock")
	}
}

func TestRetention_ThrottlingGuard_OncePerPeriod(t *testing.T) {
	cache := caching.NewMemoryCache()
	guard := locking.NewThrottlingLockProvider(cache, 1, 24*time.Hour)
	pages := models.NewOrganizationPage([]*models.Organization{{Id: "org1", RetentionDays: 30}})
	events := &retentionEventRepo{}

	first := retentionTestJob(pages, events, guard)
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(events.calls) != 1 {
		t.Fatalf("calls after first run = %v, want [org1]", events.calls)
	}

	second := retentionTestJob(pages, events, guard)
	if err := second.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(events.calls) != 1 {
		t.Fatalf("calls after second run = %v, want the second run skipped", events.calls)
	}
}

func TestRetention_CancelledContextStopsBetweenTenants(t *testing.T) {
	pages := models.NewOrganizationPage([]*models.Organization{
		{Id: "org1", RetentionDays: 30},
		{Id: "org2", RetentionDays: 30},
	})
	events := &retentionEventRepo{}
	job := retentionTestJob(pages, events, &countingLockProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	job.sleepFunc = func(ctx context.Context, d time.Duration) { cancel() }

	err := job.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(events.calls) != 1 {
		t.Fatalf("calls = %v, want the sweep to stop after the first tenant", events.calls)
	}
}
