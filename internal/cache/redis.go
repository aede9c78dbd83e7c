package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/meridian-gateway/internal/types"
)

const redisKeyPrefix = "meridian:cache:"

// Redis is the shared cache backend for multi-instance deployments. Every
// operation fails open: Redis being down degrades the gateway to uncached
// operation, never to failure.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, fingerprint string) (*types.Response, bool) {
	if r.rdb == nil {
		return nil, false
	}

	data, err := r.rdb.Get(ctx, redisKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache read failed", "error", err)
		}
		return nil, false
	}

	var resp types.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Warn("cache entry corrupt, dropping", "error", err)
		r.rdb.Del(ctx, redisKeyPrefix+fingerprint)
		return nil, false
	}
	return &resp, true
}

func (r *Redis) Put(ctx context.Context, fingerprint string, resp *types.Response) {
	if r.rdb == nil {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, redisKeyPrefix+fingerprint, data, r.ttl).Err(); err != nil {
		slog.Warn("cache write failed", "error", err)
	}
}
