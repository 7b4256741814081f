package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClusterBudget implements ClusterBudget on top of a shared Redis
// INCRBY/EXPIRE counter, giving every process in a deployment a combined
// tokens-per-minute ceiling (§6: "process-wide, shared across sessions").
type RedisClusterBudget struct {
	rdb    *redis.Client
	key    string
	ceilingPerWindow int64
	window time.Duration
}

// NewRedisClusterBudget builds a RedisClusterBudget keyed by key, capping
// combined consumption to ceilingPerWindow tokens per window (typically one
// minute, matching the tokens-per-minute unit used elsewhere in this
// package).
func NewRedisClusterBudget(rdb *redis.Client, key string, ceilingPerWindow int64, window time.Duration) *RedisClusterBudget {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisClusterBudget{rdb: rdb, key: key, ceilingPerWindow: ceilingPerWindow, window: window}
}

// Reserve atomically increments the shared counter by n and reports whether
// the result stays within ceilingPerWindow. The key is given a fresh
// expiration only on the increment that creates it, so the budget resets
// once per window.
func (b *RedisClusterBudget) Reserve(ctx context.Context, n int) (int, bool, error) {
	pipe := b.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, b.key, int64(n))
	pipe.ExpireNX(ctx, b.key, b.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false, fmt.Errorf("llm: redis cluster budget reserve: %w", err)
	}
	total := incr.Val()
	remaining := b.ceilingPerWindow - total
	return int(remaining), total <= b.ceilingPerWindow, nil
}
