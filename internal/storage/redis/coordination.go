// Package redis implements the ephemeral coordination contracts (backfill
// lock, negative-result cache, rate-window counter) on a shared Redis
// instance.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bobmcallan/quotecache/internal/common"
	"github.com/bobmcallan/quotecache/internal/interfaces"
	"github.com/bobmcallan/quotecache/internal/models"
)

const (
	defaultLockTTL   = 5 * time.Minute
	defaultMarkerTTL = 24 * time.Hour
)

// Coordinator holds the shared Redis client behind the coordination contracts.
type Coordinator struct {
	rdb       *redis.Client
	logger    *common.Logger
	lockTTL   time.Duration
	markerTTL time.Duration
}

// NewCoordinator connects to Redis and pings it once to verify reachability.
// A failed ping is returned to the caller; runtime failures after startup
// degrade per contract instead of failing requests.
func NewCoordinator(ctx context.Context, cfg common.RedisConfig, logger *common.Logger) (*Coordinator, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if logger == nil {
		logger = common.NewSilentLogger()
	}

	return &Coordinator{
		rdb:       rdb,
		logger:    logger,
		lockTTL:   defaultLockTTL,
		markerTTL: defaultMarkerTTL,
	}, nil
}

// Close shuts down the Redis client.
func (c *Coordinator) Close() error {
	return c.rdb.Close()
}

// Health checks the Redis connection.
func (c *Coordinator) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func lockKey(symbol string, interval models.Interval) string {
	return fmt.Sprintf("backfill:%s:%s", symbol, interval)
}

func markerKey(symbol string, interval models.Interval) string {
	return fmt.Sprintf("noolder:%s:%s", symbol, interval)
}

// TryAcquire attempts a set-if-absent acquisition with the lock TTL so a
// crashed holder self-heals. Fail-open: when Redis is unreachable the
// acquisition is reported as granted — store writes are idempotent, so a
// duplicate fetch is safe, while refusing to fetch would cost data
// availability.
func (c *Coordinator) TryAcquire(ctx context.Context, symbol string, interval models.Interval) (bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockKey(symbol, interval), token, c.lockTTL).Result()
	if err != nil {
		c.logger.Warn().
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Err(err).
			Msg("Lock store unreachable, proceeding without lock")
		return true, nil
	}
	return ok, nil
}

// Release drops the lock. Errors are logged only; the TTL reclaims the key.
func (c *Coordinator) Release(ctx context.Context, symbol string, interval models.Interval) error {
	if err := c.rdb.Del(ctx, lockKey(symbol, interval)).Err(); err != nil {
		c.logger.Warn().
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Err(err).
			Msg("Failed to release backfill lock, TTL will reclaim it")
		return err
	}
	return nil
}

// MarkNoOlderData sets the 24h no-older-data marker.
func (c *Coordinator) MarkNoOlderData(ctx context.Context, symbol string, interval models.Interval) error {
	if err := c.rdb.Set(ctx, markerKey(symbol, interval), "1", c.markerTTL).Err(); err != nil {
		return fmt.Errorf("set no-older-data marker: %w", err)
	}
	return nil
}

// HasNoOlderData reports the marker. Store failures read as false so the
// fetch is always attempted.
func (c *Coordinator) HasNoOlderData(ctx context.Context, symbol string, interval models.Interval) bool {
	n, err := c.rdb.Exists(ctx, markerKey(symbol, interval)).Result()
	if err != nil {
		c.logger.Warn().
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Err(err).
			Msg("Negative cache unreachable, treating as unset")
		return false
	}
	return n > 0
}

var (
	_ interfaces.BackfillLock  = (*Coordinator)(nil)
	_ interfaces.NegativeCache = (*Coordinator)(nil)
)
