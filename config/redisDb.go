package config

import (
	"context"
	"log"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ConnectRedisWithRetry dials Redis and keeps retrying with backoff until it
// succeeds. The workers cannot do anything useful without the shared cache
// and lock store, so blocking here is deliberate.
func ConnectRedisWithRetry(ctx context.Context, cfg *Config) *redis.Client {
	var attempt int
	for {
		attempt++
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: "",
			DB:       0, // use default DB
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, cfg.RedisAddress)
			return rdb
		} else {
			_ = rdb.Close()
			sleep := time.Second * time.Duration(1<<min(attempt, 5))
			if sleep > 30*time.Second {
				sleep = 30 * time.Second
			}
			log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, cfg.RedisAddress, err, sleep)
			time.Sleep(sleep)
		}
	}
}

// NewRedisLocker wraps a connected client with the distributed lock client.
func NewRedisLocker(rdb *redis.Client) *redislock.Client {
	return redislock.New(rdb)
}
