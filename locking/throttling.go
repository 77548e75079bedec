package locking

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/caching"
)

// ThrottlingLockProvider allows at most maxHits acquisitions per period
// across the whole cluster, rather than pure mutual exclusion. Jobs that
// must not run more than N times per window (the retention sweep) guard
// themselves with it.
type ThrottlingLockProvider struct {
	cache   caching.Cache
	maxHits int64
	period  time.Duration
	nowFunc func() time.Time
}

func NewThrottlingLockProvider(cache caching.Cache, maxHits int, period time.Duration) *ThrottlingLockProvider {
	return &ThrottlingLockProvider{
		cache:   cache,
		maxHits: int64(maxHits),
		period:  period,
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock. Test use only.
func (p *ThrottlingLockProvider) SetNowFunc(now func() time.Time) {
	p.nowFunc = now
}

func (p *ThrottlingLockProvider) Acquire(ctx context.Context, key string, duration time.Duration, acquireTimeout time.Duration) (Lock, error) {
	now := p.nowFunc().UTC()
	bucketStart := now.Truncate(p.period)
	bucketEnd := bucketStart.Add(p.period)
	cacheKey := fmt.Sprintf("throttle-lock:%s:%d", key, bucketStart.Unix())

	// The counter expires a period after the bucket closes so a slow reader
	// never resurrects a dead window.
	count, err := p.cache.Increment(ctx, cacheKey, 1, bucketEnd.Sub(now)+p.period)
	if err != nil {
		return nil, err
	}
	if count > p.maxHits {
		return nil, ErrNotObtained
	}
	return &throttleLock{}, nil
}

// throttleLock has nothing to release: the acquisition itself is the
// consumed unit. Renew is a no-op so lock-renewing jobs can run unchanged
// under either provider.
type throttleLock struct{}

func (l *throttleLock) Renew(ctx context.Context, extension time.Duration) error { return nil }

func (l *throttleLock) Release(ctx context.Context) error { return nil }
