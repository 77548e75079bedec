package locking

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
)

const redisLockRetryInterval = 250 * time.Millisecond

// RedisLockProvider backs Provider with redislock over the shared Redis
// instance. This is the production lock for work item handlers.
type RedisLockProvider struct {
	locker *redislock.Client
}

func NewRedisLockProvider(locker *redislock.Client) *RedisLockProvider {
	return &RedisLockProvider{locker: locker}
}

func (p *RedisLockProvider) Acquire(ctx context.Context, key string, duration time.Duration, acquireTimeout time.Duration) (Lock, error) {
	var opts *redislock.Options
	if acquireTimeout > 0 {
		retries := int(acquireTimeout / redisLockRetryInterval)
		if retries < 1 {
			retries = 1
		}
		opts = &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(redisLockRetryInterval), retries),
		}
	}

	lock, err := p.locker.Obtain(ctx, key, duration, opts)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrNotObtained
		}
		return nil, err
	}
	return &redisLock{lock: lock}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

func (l *redisLock) Renew(ctx context.Context, extension time.Duration) error {
	return l.lock.Refresh(ctx, extension, nil)
}

func (l *redisLock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		// Already expired; nothing left to release.
		return nil
	}
	return err
}
