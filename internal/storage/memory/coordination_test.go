package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quotecache/internal/models"
)

func TestBackfillLockExclusive(t *testing.T) {
	lock := NewBackfillLock(time.Minute)
	ctx := context.Background()

	granted, err := lock.TryAcquire(ctx, "AAPL", models.IntervalDaily)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = lock.TryAcquire(ctx, "AAPL", models.IntervalDaily)
	require.NoError(t, err)
	assert.False(t, granted)

	// A different key is independent.
	granted, err = lock.TryAcquire(ctx, "MSFT", models.IntervalDaily)
	require.NoError(t, err)
	assert.True(t, granted)

	require.NoError(t, lock.Release(ctx, "AAPL", models.IntervalDaily))
	granted, err = lock.TryAcquire(ctx, "AAPL", models.IntervalDaily)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestBackfillLockTTLSelfHeals(t *testing.T) {
	lock := NewBackfillLock(10 * time.Millisecond)
	ctx := context.Background()

	granted, err := lock.TryAcquire(ctx, "AAPL", models.IntervalDaily)
	require.NoError(t, err)
	require.True(t, granted)

	time.Sleep(20 * time.Millisecond)

	// Crashed holder: the expired lock is re-grantable.
	granted, err = lock.TryAcquire(ctx, "AAPL", models.IntervalDaily)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestNegativeCacheMarkerAndExpiry(t *testing.T) {
	cache := NewNegativeCache(15 * time.Millisecond)
	ctx := context.Background()

	assert.False(t, cache.HasNoOlderData(ctx, "AAPL", models.IntervalDaily))

	require.NoError(t, cache.MarkNoOlderData(ctx, "AAPL", models.IntervalDaily))
	assert.True(t, cache.HasNoOlderData(ctx, "AAPL", models.IntervalDaily))
	assert.False(t, cache.HasNoOlderData(ctx, "AAPL", models.IntervalWeekly))

	time.Sleep(25 * time.Millisecond)
	assert.False(t, cache.HasNoOlderData(ctx, "AAPL", models.IntervalDaily))
}

func TestRateCounterWindowRoll(t *testing.T) {
	counter := NewRateCounter()
	ctx := context.Background()

	count, err := counter.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	for i := 1; i <= 3; i++ {
		count, err = counter.Increment(ctx, 30*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)
	}

	remaining, err := counter.Remaining(ctx)
	require.NoError(t, err)
	assert.Greater(t, remaining, time.Duration(0))

	time.Sleep(40 * time.Millisecond)

	// The window rolled over, counting restarts.
	count, err = counter.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	count, err = counter.Increment(ctx, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
