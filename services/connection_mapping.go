package services

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const connectionSetPrefix = "connections:"

// RedisConnectionMapping stores live connection ids in a Redis set per
// group so every worker instance sees the same listener counts.
type RedisConnectionMapping struct {
	rdb *redis.Client
}

func NewRedisConnectionMapping(rdb *redis.Client) *RedisConnectionMapping {
	return &RedisConnectionMapping{rdb: rdb}
}

func (m *RedisConnectionMapping) AddGroupConnection(ctx context.Context, groupId, connectionId string) error {
	return m.rdb.SAdd(ctx, connectionSetPrefix+groupId, connectionId).Err()
}

func (m *RedisConnectionMapping) RemoveGroupConnection(ctx context.Context, groupId, connectionId string) error {
	return m.rdb.SRem(ctx, connectionSetPrefix+groupId, connectionId).Err()
}

func (m *RedisConnectionMapping) GetGroupConnectionCount(ctx context.Context, groupId string) (int64, error) {
	return m.rdb.SCard(ctx, connectionSetPrefix+groupId).Result()
}

// MemoryConnectionMapping is the in-process equivalent for tests and local
// development.
type MemoryConnectionMapping struct {
	mu     sync.Mutex
	groups map[string]map[string]struct{}
}

func NewMemoryConnectionMapping() *MemoryConnectionMapping {
	return &MemoryConnectionMapping{groups: map[string]map[string]struct{}{}}
}

func (m *MemoryConnectionMapping) AddGroupConnection(ctx context.Context, groupId, connectionId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.groups[groupId] == nil {
		m.groups[groupId] = map[string]struct{}{}
	}
	m.groups[groupId][connectionId] = struct{}{}
	return nil
}

func (m *MemoryConnectionMapping) RemoveGroupConnection(ctx context.Context, groupId, connectionId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups[groupId], connectionId)
	return nil
}

func (m *MemoryConnectionMapping) GetGroupConnectionCount(ctx context.Context, groupId string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.groups[groupId])), nil
}
