package jobs

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/config"
	"bitbucket.org/mmdatafocus/events_backend/locking"
	"bitbucket.org/mmdatafocus/events_backend/models"
	"bitbucket.org/mmdatafocus/events_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	retentionLockKey      = "retention-limits-job"
	retentionLockDuration = 2 * time.Hour
)

// RetentionLimitsJob deletes events older than each plan's retention period.
// One sweep walks every organization with finite retention, page by page,
// renewing its guard lock between pages so the lock cannot lapse mid-sweep
// on large tenant counts.
//
// The guard is a throttling lock (at most one acquisition per its period)
// rather than a mutex: it is a safety net against overlapping runs on top of
// whatever schedule triggers the job.
type RetentionLimitsJob struct {
	cfg          *config.Config
	db           *models.Database
	lockProvider locking.Provider
	logger       *logrus.Logger

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration)
}

func NewRetentionLimitsJob(cfg *config.Config, db *models.Database, lockProvider locking.Provider, logger *logrus.Logger) *RetentionLimitsJob {
	return &RetentionLimitsJob{
		cfg:          cfg,
		db:           db,
		lockProvider: lockProvider,
		logger:       logger,
		nowFunc:      time.Now,
		sleepFunc:    sleepContext,
	}
}

func (j *RetentionLimitsJob) Run(ctx context.Context) error {
	lock, err := j.lockProvider.Acquire(ctx, retentionLockKey, retentionLockDuration, 0)
	if err != nil {
		if errors.Is(err, locking.ErrNotObtained) {
			j.logger.WithFields(logrus.Fields{
				"module": "jobs",
				"job":    "RetentionLimits",
			}).Info("retention sweep already ran this period; skipping")
			return nil
		}
		return err
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()

	page, err := j.db.Organizations.GetByRetentionDaysEnabled(ctx, j.cfg.RetentionPageSize)
	if err != nil {
		return err
	}

	for page != nil && len(page.Documents) > 0 {
		for _, organization := range page.Documents {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			j.enforceEventCountLimits(ctx, organization)

			// Sleep so we are not hammering the backend.
			j.sleepFunc(ctx, j.cfg.RetentionPace)
		}

		if ctx.Err() != nil || !page.HasNextPage() {
			break
		}

		// More tenants remain; extend the guard before the next page.
		if err := lock.Renew(ctx, retentionLockDuration); err != nil {
			return err
		}
		page, err = page.NextPage(ctx)
		if err != nil {
			return err
		}
	}

	return nil
}

// enforceEventCountLimits deletes one organization's expired events. A
// failure is logged and contained: one tenant cannot abort the sweep.
func (j *RetentionLimitsJob) enforceEventCountLimits(ctx context.Context, organization *models.Organization) {
	ctx = utils.SetOrganizationIdInContext(ctx, organization.Id)

	retentionDays := organization.RetentionDays
	if j.cfg.MaximumRetentionDays > 0 && retentionDays > j.cfg.MaximumRetentionDays {
		retentionDays = j.cfg.MaximumRetentionDays
	}
	cutoff := j.nowFunc().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -retentionDays)

	removed, err := j.db.Events.RemoveAllByDate(ctx, organization.Id, cutoff)
	if err != nil {
		config.LogError(ctx, j.logger, "jobs", "RetentionLimitsJob.enforceEventCountLimits", logrus.Fields{
			"organization": organization.Name,
		}, err)
		return
	}
	if removed > 0 {
		j.logger.WithFields(logrus.Fields{
			"module":          "jobs",
			"job":             "RetentionLimits",
			"organization_id": organization.Id,
			"organization":    organization.Name,
			"removed":         removed,
			"cutoff":          cutoff,
		}).Info("removed events outside retention period")
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
