// Package ratelimit provides a Redis-backed sliding window limiter with an
// in-process fallback for single-node deployments.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter answers whether one more event is allowed for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter counts events per key in a sliding window using a sorted set
// keyed by timestamp.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	redisKey := fmt.Sprintf("ratelimit:%s:%s", l.prefix, key)
	windowStart := now.Add(-l.window).UnixMilli()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart))
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d-%d", now.UnixNano(), now.UnixMilli()),
	})
	count := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, eris.Wrap(err, "ratelimit: redis pipeline")
	}
	return count.Val() <= int64(l.limit), nil
}

// LocalLimiter keeps a token bucket per key in memory. Used when Redis is
// not configured, and by tests.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow(), nil
}

// ForUploads builds the per-user upload limiter. Falls back to the local
// limiter when no Redis client is supplied.
func ForUploads(client *redis.Client, perMinute int) Limiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if client == nil {
		zap.L().Info("ratelimit: no redis client, using in-process limiter")
		return NewLocalLimiter(perMinute, time.Minute)
	}
	return NewRedisLimiter(client, "upload", perMinute, time.Minute)
}
