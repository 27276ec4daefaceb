package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "qrdrop:ratelimit:"

// RedisStore keeps each key's hits in a sorted set scored by Unix microseconds,
// which lets several server processes share one window.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	k := keyPrefix + key
	floor := strconv.FormatInt(now.Add(-window).UnixMicro(), 10)
	var (
		count  *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		count = p.ZCount(ctx, k, "("+floor, "+inf")
		oldest = p.ZRangeByScoreWithScores(ctx, k, &redis.ZRangeBy{Min: "(" + floor, Max: "+inf", Count: 1})
		return nil
	})
	if err != nil {
		return Window{}, fmt.Errorf("read rate window: %w", err)
	}
	return toWindow(count.Val(), oldest.Val()), nil
}

// Increment implements Store. Trimming, adding and counting run in one
// MULTI/EXEC so concurrent servers see a consistent count.
func (r *RedisStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	k := keyPrefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixMicro(), 10)
	var (
		count  *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", cutoff)
		p.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMicro()), Member: uuid.NewString()})
		count = p.ZCard(ctx, k)
		oldest = p.ZRangeWithScores(ctx, k, 0, 0)
		p.Expire(ctx, k, window)
		return nil
	})
	if err != nil {
		return Window{}, fmt.Errorf("record rate hit: %w", err)
	}
	return toWindow(count.Val(), oldest.Val()), nil
}

// Expire is a no-op; every key carries a TTL equal to its window.
func (r *RedisStore) Expire(context.Context, time.Time) error {
	return nil
}

func toWindow(count int64, oldest []redis.Z) Window {
	w := Window{Count: int(count)}
	if len(oldest) > 0 {
		w.Oldest = time.UnixMicro(int64(oldest[0].Score))
	}
	return w
}
