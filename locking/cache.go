package locking

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/caching"
	"github.com/google/uuid"
)

const cacheLockRetryInterval = 50 * time.Millisecond

// CacheLockProvider implements mutual exclusion with a set-if-absent marker
// in the cache. Tests and single-store deployments use it; production work
// item handlers use RedisLockProvider instead.
type CacheLockProvider struct {
	cache caching.Cache
}

func NewCacheLockProvider(cache caching.Cache) *CacheLockProvider {
	return &CacheLockProvider{cache: cache}
}

func (p *CacheLockProvider) Acquire(ctx context.Context, key string, duration time.Duration, acquireTimeout time.Duration) (Lock, error) {
	token := uuid.NewString()
	cacheKey := "lock:" + key
	deadline := time.Now().Add(acquireTimeout)

	for {
		ok, err := p.cache.SetIfAbsent(ctx, cacheKey, token, duration)
		if err != nil {
			return nil, err
		}
		if ok {
			return &cacheLock{cache: p.cache, key: cacheKey, token: token, duration: duration}, nil
		}
		if acquireTimeout <= 0 || !time.Now().Before(deadline) {
			return nil, ErrNotObtained
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cacheLockRetryInterval):
		}
	}
}

type cacheLock struct {
	cache    caching.Cache
	key      string
	token    string
	duration time.Duration
}

func (l *cacheLock) Renew(ctx context.Context, extension time.Duration) error {
	val, ok, err := l.cache.Get(ctx, l.key)
	if err != nil {
		return err
	}
	if !ok || val != l.token {
		return fmt.Errorf("lock %s no longer held", l.key)
	}
	if extension <= 0 {
		extension = l.duration
	}
	return l.cache.Set(ctx, l.key, l.token, extension)
}

func (l *cacheLock) Release(ctx context.Context) error {
	val, ok, err := l.cache.Get(ctx, l.key)
	if err != nil {
		return err
	}
	if !ok || val != l.token {
		// Expired or taken over; nothing to release.
		return nil
	}
	return l.cache.Remove(ctx, l.key)
}
