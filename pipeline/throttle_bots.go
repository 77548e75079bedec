package pipeline

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/caching"
	"bitbucket.org/mmdatafocus/events_backend/config"
	"bitbucket.org/mmdatafocus/events_backend/queueing"
	"bitbucket.org/mmdatafocus/events_backend/utils"
	"bitbucket.org/mmdatafocus/events_backend/workitems"
	"github.com/sirupsen/logrus"
)

const throttlingPeriod = 5 * time.Minute

// ThrottleBotsPlugin caps accepted event volume per client IP to no more
// than the configured limit every 5 minutes. Events past the limit are
// hidden immediately and a cleanup work item purges what the same IP got
// through earlier in the window.
type ThrottleBotsPlugin struct {
	cfg    *config.Config
	cache  caching.Cache
	queue  queueing.Queue
	logger *logrus.Logger

	nowFunc func() time.Time
}

func NewThrottleBotsPlugin(cfg *config.Config, cache caching.Cache, queue queueing.Queue, logger *logrus.Logger) *ThrottleBotsPlugin {
	return &ThrottleBotsPlugin{
		cfg:     cfg,
		cache:   cache,
		queue:   queue,
		logger:  logger,
		nowFunc: time.Now,
	}
}

func (p *ThrottleBotsPlugin) Name() string { return "ThrottleBots" }

// Priority 0: runs before every other stage so bot noise never reaches them.
func (p *ThrottleBotsPlugin) Priority() int { return 0 }

func (p *ThrottleBotsPlugin) EventBatchProcessing(ctx context.Context, contexts []*EventContext) error {
	if p.cfg.IsDevelopment() {
		return nil
	}

	firstContext := contexts[0]
	if firstContext.Project == nil || !firstContext.Project.DeleteBotDataEnabled {
		return nil
	}

	now := p.nowFunc().UTC()
	windowStart := utils.FloorTime(now, throttlingPeriod)
	windowEnd := windowStart.Add(throttlingPeriod)

	for _, group := range groupByClientIp(contexts) {
		// Private and reserved ranges are exempt: internal monitors and
		// health checks hammer from those. Only this group is skipped, not
		// the rest of the batch.
		if utils.IsPrivateNetwork(group.clientIp) {
			continue
		}

		throttleCacheKey := fmt.Sprintf("bot:%s:%d", group.clientIp, windowStart.Unix())
		requestCount, err := p.cache.Increment(ctx, throttleCacheKey, int64(len(group.contexts)), windowEnd.Sub(now))
		if err != nil {
			return fmt.Errorf("incrementing throttle counter for %s: %w", group.clientIp, err)
		}

		if requestCount < int64(p.cfg.BotThrottleLimit) {
			continue
		}

		p.logger.WithFields(logrus.Fields{
			"module":          "pipeline",
			"plugin":          p.Name(),
			"client_ip":       group.clientIp,
			"window_start":    windowStart,
			"organization_id": firstContext.Event.OrganizationId,
			"project_id":      firstContext.Event.ProjectId,
			"request_count":   requestCount,
		}).Info("bot throttle triggered")

		// Hide the triggering events right away rather than waiting for the
		// cleanup job.
		for _, c := range group.contexts {
			c.Event.IsHidden = true
		}

		// The cleanup item purges what this IP already got through earlier
		// in the window. Enqueue it once per (ip, window), no matter how
		// many batches cross the threshold.
		if err := p.enqueueCleanupOnce(ctx, firstContext.Event.OrganizationId, group.clientIp, windowStart, windowEnd); err != nil {
			return err
		}
	}
	return nil
}

func (p *ThrottleBotsPlugin) enqueueCleanupOnce(ctx context.Context, organizationId, clientIp string, windowStart, windowEnd time.Time) error {
	markerKey := fmt.Sprintf("bot:clean:%s:%d", clientIp, windowStart.Unix())
	created, err := p.cache.SetIfAbsent(ctx, markerKey, "1", 2*throttlingPeriod)
	if err != nil {
		return fmt.Errorf("setting cleanup marker for %s: %w", clientIp, err)
	}
	if !created {
		return nil
	}

	_, err = workitems.Enqueue(ctx, p.queue, workitems.TypeThrottleBots, &workitems.ThrottleBotsWorkItem{
		OrganizationId:  organizationId,
		ClientIpAddress: clientIp,
		UtcStartDate:    windowStart,
		UtcEndDate:      windowEnd,
	})
	if err != nil {
		// Let a later batch retry the enqueue.
		_ = p.cache.Remove(ctx, markerKey)
		return fmt.Errorf("enqueueing bot cleanup for %s: %w", clientIp, err)
	}
	return nil
}

type clientIpGroup struct {
	clientIp string
	contexts []*EventContext
}

// groupByClientIp partitions the batch by client IP, preserving first-seen
// order. Events without an IP are exempt from throttling.
func groupByClientIp(contexts []*EventContext) []*clientIpGroup {
	var groups []*clientIpGroup
	byIp := map[string]*clientIpGroup{}
	for _, c := range contexts {
		ip := c.Event.ClientIpAddress
		if ip == "" {
			continue
		}
		g, ok := byIp[ip]
		if !ok {
			g = &clientIpGroup{clientIp: ip}
			byIp[ip] = g
			groups = append(groups, g)
		}
		g.contexts = append(g.contexts, c)
	}
	return groups
}
