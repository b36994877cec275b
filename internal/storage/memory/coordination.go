package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/quotecache/internal/interfaces"
	"github.com/bobmcallan/quotecache/internal/models"
)

// BackfillLock is an in-process advisory lock with TTL self-healing, the
// single-process substitute for the redis coordinator.
type BackfillLock struct {
	mu  sync.Mutex
	ttl time.Duration
	// expiry per key; a past expiry means the holder crashed and the lock
	// self-heals on the next acquisition attempt
	held map[seriesKey]time.Time
}

// NewBackfillLock creates a lock with the given TTL (5 minutes when zero).
func NewBackfillLock(ttl time.Duration) *BackfillLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BackfillLock{
		ttl:  ttl,
		held: make(map[seriesKey]time.Time),
	}
}

func (l *BackfillLock) TryAcquire(ctx context.Context, symbol string, interval models.Interval) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := seriesKey{symbol, interval}
	if expiry, ok := l.held[key]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	l.held[key] = time.Now().Add(l.ttl)
	return true, nil
}

func (l *BackfillLock) Release(ctx context.Context, symbol string, interval models.Interval) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, seriesKey{symbol, interval})
	return nil
}

// NegativeCache is an in-process no-older-data marker store.
type NegativeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	markers map[seriesKey]time.Time
}

// NewNegativeCache creates a marker store with the given TTL (24h when zero).
func NewNegativeCache(ttl time.Duration) *NegativeCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &NegativeCache{
		ttl:     ttl,
		markers: make(map[seriesKey]time.Time),
	}
}

func (c *NegativeCache) MarkNoOlderData(ctx context.Context, symbol string, interval models.Interval) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.markers[seriesKey{symbol, interval}] = time.Now().Add(c.ttl)
	return nil
}

func (c *NegativeCache) HasNoOlderData(ctx context.Context, symbol string, interval models.Interval) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, ok := c.markers[seriesKey{symbol, interval}]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(c.markers, seriesKey{symbol, interval})
		return false
	}
	return true
}

// RateCounter is an in-process fixed-window counter.
type RateCounter struct {
	mu     sync.Mutex
	count  int64
	expiry time.Time
}

// NewRateCounter creates a counter with no armed window.
func NewRateCounter() *RateCounter {
	return &RateCounter{}
}

func (c *RateCounter) Increment(ctx context.Context, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollLocked()
	c.count++
	if c.count == 1 {
		c.expiry = time.Now().Add(window)
	}
	return c.count, nil
}

func (c *RateCounter) Count(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollLocked()
	return c.count, nil
}

func (c *RateCounter) Remaining(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollLocked()
	if c.count == 0 {
		return 0, nil
	}
	return time.Until(c.expiry), nil
}

// rollLocked resets the counter once the window expires.
func (c *RateCounter) rollLocked() {
	if c.count > 0 && time.Now().After(c.expiry) {
		c.count = 0
		c.expiry = time.Time{}
	}
}

var (
	_ interfaces.BackfillLock  = (*BackfillLock)(nil)
	_ interfaces.NegativeCache = (*NegativeCache)(nil)
	_ interfaces.RateCounter   = (*RateCounter)(nil)
)
