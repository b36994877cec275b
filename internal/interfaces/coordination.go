package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/quotecache/internal/models"
)

// BackfillLock coordinates backfill work across concurrent callers so the same
// gap is not fetched twice. Advisory only: store writes are idempotent, so a
// duplicate fetch wastes upstream budget but never corrupts data.
type BackfillLock interface {
	// TryAcquire attempts a non-blocking, TTL-bounded acquisition for the
	// key. Implementations fail open: when the lock store is unreachable the
	// acquisition is reported as granted, trading duplicate upstream work
	// for availability.
	TryAcquire(ctx context.Context, symbol string, interval models.Interval) (bool, error)

	// Release drops the lock. Safe to call when not held.
	Release(ctx context.Context, symbol string, interval models.Interval) error
}

// NegativeCache remembers, with expiry, that an older-edge backfill found no
// data, so repeated fruitless attempts are skipped until the marker expires.
type NegativeCache interface {
	// MarkNoOlderData sets the marker for the key.
	MarkNoOlderData(ctx context.Context, symbol string, interval models.Interval) error

	// HasNoOlderData reports whether the marker is present. Store
	// unavailability reads as false so the fetch is always attempted.
	HasNoOlderData(ctx context.Context, symbol string, interval models.Interval) bool
}

// RateCounter is the shared fixed-window counter behind the upstream rate
// governor. One counter instance is shared by every caller process-wide.
type RateCounter interface {
	// Increment bumps the window counter and returns the new count. The
	// first increment of a fresh window arms the window's expiry.
	Increment(ctx context.Context, window time.Duration) (int64, error)

	// Count returns the current window count without incrementing.
	Count(ctx context.Context) (int64, error)

	// Remaining returns the time left until the current window expires.
	// Zero means no window is armed.
	Remaining(ctx context.Context) (time.Duration, error)
}
