package caching

import (
	"context"
	"time"
)

// Cache is the shared counter and key/value store used for throttling,
// locks and once-markers. All workers in the cluster point at the same
// backing store, so increments must be atomic at the store level, not
// read-modify-write in process.
type Cache interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// SetIfAbsent stores value only when the key does not exist yet and
	// reports whether it did.
	SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// Increment atomically adds amount to the counter at key and returns the
	// new value. When the key is created by this call its expiry is set to
	// ttl; an existing key keeps its remaining TTL.
	Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	Remove(ctx context.Context, keys ...string) error

	// Flush removes everything. Test and admin use only.
	Flush(ctx context.Context) error
}
