package locking

import (
	"context"
	"errors"
	"time"
)

// ErrNotObtained is returned when the lock is already held elsewhere and the
// acquire timeout ran out. Callers treat it as "work is in flight somewhere
// else", not as a failure.
var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held lock. Release it when done; an unreleased lock falls back to
// expiring on its own after its duration.
type Lock interface {
	// Renew extends the lock's expiry without losing ownership.
	Renew(ctx context.Context, extension time.Duration) error
	Release(ctx context.Context) error
}

// Provider hands out named, time-boxed locks shared across all worker
// instances. acquireTimeout bounds how long Acquire blocks waiting for a
// busy lock; zero means a single attempt.
type Provider interface {
	Acquire(ctx context.Context, key string, duration time.Duration, acquireTimeout time.Duration) (Lock, error)
}
