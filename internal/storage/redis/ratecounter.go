package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bobmcallan/quotecache/internal/interfaces"
)

// RateCounter is the shared fixed-window counter on Redis. The window's
// expiry is armed by the first increment of a fresh window; PTTL exposes the
// remaining window time to waiting callers.
type RateCounter struct {
	rdb *redis.Client
	key string
}

// NewRateCounter creates a counter under "ratewin:<name>". All processes
// sharing the same name share the same window.
func (c *Coordinator) NewRateCounter(name string) *RateCounter {
	return &RateCounter{
		rdb: c.rdb,
		key: fmt.Sprintf("ratewin:%s", name),
	}
}

func (r *RateCounter) Increment(ctx context.Context, window time.Duration) (int64, error) {
	count, err := r.rdb.Incr(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr rate window: %w", err)
	}
	if count == 1 {
		if err := r.rdb.PExpire(ctx, r.key, window).Err(); err != nil {
			return count, fmt.Errorf("arm rate window expiry: %w", err)
		}
	}
	return count, nil
}

func (r *RateCounter) Count(ctx context.Context) (int64, error) {
	count, err := r.rdb.Get(ctx, r.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read rate window: %w", err)
	}
	return count, nil
}

func (r *RateCounter) Remaining(ctx context.Context) (time.Duration, error) {
	ttl, err := r.rdb.PTTL(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("rate window ttl: %w", err)
	}
	if ttl < 0 {
		// -1 no expiry, -2 no key; either way there is nothing to wait out
		return 0, nil
	}
	return ttl, nil
}

var _ interfaces.RateCounter = (*RateCounter)(nil)
