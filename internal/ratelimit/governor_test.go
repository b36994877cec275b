package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quotecache/internal/common"
	"github.com/bobmcallan/quotecache/internal/storage/memory"
)

// brokenCounter simulates an unreachable counter store.
type brokenCounter struct{}

func (brokenCounter) Increment(ctx context.Context, window time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func (brokenCounter) Count(ctx context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}

func (brokenCounter) Remaining(ctx context.Context) (time.Duration, error) {
	return 0, errors.New("connection refused")
}

// fullCounter reports a permanently saturated window.
type fullCounter struct{}

func (fullCounter) Increment(ctx context.Context, window time.Duration) (int64, error) {
	return 100, nil
}

func (fullCounter) Count(ctx context.Context) (int64, error) {
	return 100, nil
}

func (fullCounter) Remaining(ctx context.Context) (time.Duration, error) {
	return time.Millisecond, nil
}

func TestGovernorAdmitsUnderCap(t *testing.T) {
	g := NewGovernor(memory.NewRateCounter(), Config{
		Window:      time.Second,
		MaxRequests: 3,
	}, common.NewSilentLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		start := time.Now()
		require.NoError(t, g.Acquire(ctx))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	}
}

func TestGovernorBlocksWhenWindowFull(t *testing.T) {
	g := NewGovernor(memory.NewRateCounter(), Config{
		Window:      150 * time.Millisecond,
		MaxRequests: 3,
	}, common.NewSilentLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Acquire(ctx))
	}

	// The 4th call must wait out the remaining window before proceeding.
	start := time.Now()
	require.NoError(t, g.Acquire(ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestGovernorCooldownSpacesGrants(t *testing.T) {
	g := NewGovernor(memory.NewRateCounter(), Config{
		Window:      time.Second,
		MaxRequests: 3,
		Cooldown:    30 * time.Millisecond,
	}, common.NewSilentLogger())

	start := time.Now()
	require.NoError(t, g.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestGovernorDegradesOnCounterFailure(t *testing.T) {
	g := NewGovernor(brokenCounter{}, Config{
		Window:        time.Second,
		MaxRequests:   3,
		DegradedDelay: 10 * time.Millisecond,
	}, common.NewSilentLogger())

	// Counter outages must not block the caller indefinitely.
	start := time.Now()
	require.NoError(t, g.Acquire(context.Background()))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestGovernorSaturationBounded(t *testing.T) {
	g := NewGovernor(fullCounter{}, Config{
		Window:      time.Second,
		MaxRequests: 3,
		MaxWaits:    2,
	}, common.NewSilentLogger())

	err := g.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSaturated)
}

func TestGovernorRespectsContext(t *testing.T) {
	g := NewGovernor(memory.NewRateCounter(), Config{
		Window:      10 * time.Second,
		MaxRequests: 1,
	}, common.NewSilentLogger())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, g.Acquire(ctx))

	cancel()
	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
