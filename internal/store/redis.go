package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/i474232898/prayer-times-engine/internal/prayer"
)

const redisKeyPrefix = "prayer:times:"

// RedisCache is a prayer.Cache shared between instances.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to addr and pings it.
func NewRedisCache(ctx context.Context, addr, username, password string) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisCache{rdb: rdb}, nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func redisKey(key string) string { return redisKeyPrefix + key }

func (c *RedisCache) Get(ctx context.Context, key string) (prayer.TimeSet, bool, error) {
	raw, err := c.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return prayer.TimeSet{}, false, nil
	}
	if err != nil {
		return prayer.TimeSet{}, false, err
	}
	set, err := decodeTimeSet(raw)
	if err != nil {
		return prayer.TimeSet{}, false, err
	}
	return set, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, set prayer.TimeSet, ttl time.Duration) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.rdb.Set(ctx, redisKey(key), raw, ttl).Err()
}

func (c *RedisCache) Close() error { return c.rdb.Close() }

func decodeTimeSet(raw []byte) (prayer.TimeSet, error) {
	var set prayer.TimeSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return prayer.TimeSet{}, fmt.Errorf("decode cached times: %w", err)
	}
	return set, nil
}
