package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	collectiondomain "github.com/smallbiznis/billingschedule/internal/collection/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultSnapshotTTL = 25 * time.Hour
	snapshotKeyPrefix  = "billingschedule:collection:"
)

type SnapshotCacheParams struct {
	fx.In

	Log    *zap.Logger
	Client *redis.Client `optional:"true"`
}

// NewSnapshotCache uses redis when a client is configured and an in-memory
// cache otherwise.
func NewSnapshotCache(p SnapshotCacheParams) collectiondomain.SnapshotCache {
	if p.Client == nil {
		return NewMemorySnapshotCache()
	}
	return &redisSnapshotCache{
		client: p.Client,
		ttl:    defaultSnapshotTTL,
		log:    p.Log.Named("cache.snapshot"),
	}
}

type redisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func (c *redisSnapshotCache) Get(ctx context.Context, key collectiondomain.Key) (*collectiondomain.Snapshot, bool, error) {
	raw, err := c.client.Get(ctx, redisSnapshotKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snapshot collectiondomain.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		c.log.Warn("dropping undecodable snapshot", zap.String("key", key.String()), zap.Error(err))
		_ = c.client.Del(ctx, redisSnapshotKey(key)).Err()
		return nil, false, nil
	}
	return &snapshot, true, nil
}

func (c *redisSnapshotCache) Set(ctx context.Context, snapshot collectiondomain.Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisSnapshotKey(snapshot.Key()), raw, c.ttl).Err()
}

func redisSnapshotKey(key collectiondomain.Key) string {
	return snapshotKeyPrefix + cacheKey(string(key.EntityType), string(key.PeriodType), key.EntityRef)
}

type memorySnapshotCache struct {
	snapshots Cache[string, collectiondomain.Snapshot]
	ttl       time.Duration
}

func NewMemorySnapshotCache() collectiondomain.SnapshotCache {
	return &memorySnapshotCache{
		snapshots: NewTTLCache[string, collectiondomain.Snapshot](),
		ttl:       defaultSnapshotTTL,
	}
}

func (c *memorySnapshotCache) Get(_ context.Context, key collectiondomain.Key) (*collectiondomain.Snapshot, bool, error) {
	snapshot, ok := c.snapshots.Get(cacheKey(string(key.EntityType), string(key.PeriodType), key.EntityRef))
	if !ok {
		return nil, false, nil
	}
	return &snapshot, true, nil
}

func (c *memorySnapshotCache) Set(_ context.Context, snapshot collectiondomain.Snapshot) error {
	if snapshot.ID == 0 {
		return nil
	}
	key := snapshot.Key()
	c.snapshots.Set(cacheKey(string(key.EntityType), string(key.PeriodType), key.EntityRef), snapshot, c.ttl)
	return nil
}
