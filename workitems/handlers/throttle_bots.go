package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/locking"
	"bitbucket.org/mmdatafocus/events_backend/models"
	"bitbucket.org/mmdatafocus/events_backend/utils"
	"bitbucket.org/mmdatafocus/events_backend/workitems"
	"github.com/sirupsen/logrus"
)

const throttleBotsLockDuration = 5 * time.Minute

// ThrottleBotsHandler purges the events a throttled client IP got through
// earlier in its window. The pipeline hides the triggering batch itself;
// this handler cleans up retroactively.
type ThrottleBotsHandler struct {
	db           *models.Database
	lockProvider locking.Provider
	logger       *logrus.Logger
}

func NewThrottleBotsHandler(db *models.Database, lockProvider locking.Provider, logger *logrus.Logger) *ThrottleBotsHandler {
	return &ThrottleBotsHandler{db: db, lockProvider: lockProvider, logger: logger}
}

func (h *ThrottleBotsHandler) AcquireLock(ctx context.Context, data json.RawMessage) (locking.Lock, error) {
	var wi workitems.ThrottleBotsWorkItem
	if err := json.Unmarshal(data, &wi); err != nil {
		return nil, fmt.Errorf("unmarshal throttle bots work item: %w", err)
	}
	key := fmt.Sprintf("throttle-bots:%s:%s", wi.OrganizationId, wi.ClientIpAddress)
	return h.lockProvider.Acquire(ctx, key, throttleBotsLockDuration, 0)
}

func (h *ThrottleBotsHandler) HandleItem(c *workitems.Context) error {
	var wi workitems.ThrottleBotsWorkItem
	if err := c.Bind(&wi); err != nil {
		return err
	}
	c.Context = utils.SetOrganizationIdInContext(c.Context, wi.OrganizationId)

	removed, err := h.db.Events.RemoveAllByClientIpAndDate(c, wi.OrganizationId, wi.ClientIpAddress, wi.UtcStartDate, wi.UtcEndDate)
	if err != nil {
		return fmt.Errorf("removing bot events for %s: %w", wi.ClientIpAddress, err)
	}

	h.logger.WithFields(logrus.Fields{
		"module":          "handlers",
		"handler":         "ThrottleBots",
		"organization_id": wi.OrganizationId,
		"client_ip":       wi.ClientIpAddress,
		"window_start":    wi.UtcStartDate,
		"window_end":      wi.UtcEndDate,
		"removed":         removed,
	}).Info("removed bot events for throttled client ip")
	return nil
}
