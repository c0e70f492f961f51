// Package cache resolves author profiles for statuses on their way to subscribers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/pkg/logger"
)

// Options for NewUserCache. Redis is optional.
type Options struct {
	Size  int
	Redis *redis.Client
	TTL   time.Duration
}

// UserCache 三级读取：进程内 LRU -> redis(MGET) -> 数据库批量加载。
// LRU 容量固定，淘汰是确定的。
type UserCache struct {
	users repository.UserRepository
	l1    *lru.Cache[int64, *model.User]
	rdb   *redis.Client
	ttl   time.Duration

	l1Hits    atomic.Int64
	redisHits atomic.Int64
	dbLoads   atomic.Int64
}

func NewUserCache(users repository.UserRepository, opts Options) (*UserCache, error) {
	if opts.Size <= 0 {
		opts.Size = 4096
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	l1, err := lru.New[int64, *model.User](opts.Size)
	if err != nil {
		return nil, errors.Wrap(err, "create lru")
	}
	return &UserCache{users: users, l1: l1, rdb: opts.Redis, ttl: opts.TTL}, nil
}

func userKey(id int64) string { return fmt.Sprintf("user:%d", id) }

// Get returns one user or repository.ErrNotFound.
func (c *UserCache) Get(ctx context.Context, id int64) (*model.User, error) {
	m, err := c.GetMany(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	u, ok := m[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

// GetMany returns the users it could find; unknown ids are simply absent.
// Returned users are shared and must not be modified.
func (c *UserCache) GetMany(ctx context.Context, ids []int64) (map[int64]*model.User, error) {
	out := make(map[int64]*model.User, len(ids))
	var missing []int64
	for _, id := range ids {
		if _, seen := out[id]; seen {
			continue
		}
		if u, ok := c.l1.Get(id); ok {
			c.l1Hits.Add(1)
			out[id] = u
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	missing = c.loadFromRedis(ctx, missing, out)
	if len(missing) == 0 {
		return out, nil
	}

	c.dbLoads.Add(1)
	users, err := c.users.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	c.store(ctx, users)
	return out, nil
}

// loadFromRedis fills out and returns the ids still missing.
func (c *UserCache) loadFromRedis(ctx context.Context, ids []int64, out map[int64]*model.User) []int64 {
	if c.rdb == nil {
		return ids
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warn("user cache mget failed", zap.Error(err))
		return ids
	}

	var missing []int64
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var u model.User
		if err := json.Unmarshal([]byte(str), &u); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		c.redisHits.Add(1)
		out[u.ID] = &u
		c.l1.Add(u.ID, &u)
	}
	return missing
}

// Put refreshes the cached copies of users, e.g. after a status carrying a newer
// profile was persisted.
func (c *UserCache) Put(ctx context.Context, users ...*model.User) {
	c.store(ctx, users)
}

func (c *UserCache) store(ctx context.Context, users []*model.User) {
	if len(users) == 0 {
		return
	}
	var pipe redis.Pipeliner
	if c.rdb != nil {
		pipe = c.rdb.Pipeline()
	}
	for _, u := range users {
		if u == nil {
			continue
		}
		c.l1.Add(u.ID, u)
		if pipe == nil {
			continue
		}
		if payload, err := json.Marshal(u); err == nil {
			pipe.Set(ctx, userKey(u.ID), payload, c.ttl)
		}
	}
	if pipe != nil {
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("user cache write failed", zap.Error(err))
		}
	}
}

// Invalidate drops ids from both cache levels.
func (c *UserCache) Invalidate(ctx context.Context, ids ...int64) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		c.l1.Remove(id)
		keys = append(keys, userKey(id))
	}
	if c.rdb != nil && len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			logger.Warn("user cache invalidate failed", zap.Error(err))
		}
	}
}

// Counters summarises where reads were served from.
type Counters struct {
	L1Hits    int64 `json:"l1_hits"`
	RedisHits int64 `json:"redis_hits"`
	DBLoads   int64 `json:"db_loads"`
}

func (c *UserCache) Counters() Counters {
	return Counters{
		L1Hits:    c.l1Hits.Load(),
		RedisHits: c.redisHits.Load(),
		DBLoads:   c.dbLoads.Load(),
	}
}

// ResetCounters clears recorded counters.
func (c *UserCache) ResetCounters() {
	c.l1Hits.Store(0)
	c.redisHits.Store(0)
	c.dbLoads.Store(0)
}
