// Package ratelimit implements the shared fixed-window request governor that
// gates every call to the upstream market-data provider.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/quotecache/internal/common"
	"github.com/bobmcallan/quotecache/internal/interfaces"
)

// ErrSaturated is returned when the window stayed full for the entire bounded
// wait. Callers classify it as throttling so it consumes the retry budget
// instead of blocking forever.
var ErrSaturated = errors.New("rate governor: window saturated")

// Config holds governor tuning. Zero values fall back to the defaults used in
// production: 3 requests per 60s window with a 3s post-grant cool-down.
type Config struct {
	Window        time.Duration // fixed window length
	MaxRequests   int64         // requests admitted per window
	Cooldown      time.Duration // fixed sleep after a granted slot, spreads bursts
	DegradedDelay time.Duration // fixed delay when the counter store is unreachable
	MaxWaits      int           // bound on full-window waits before giving up
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = 3
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.DegradedDelay <= 0 {
		c.DegradedDelay = 500 * time.Millisecond
	}
	if c.MaxWaits <= 0 {
		c.MaxWaits = 8
	}
	return c
}

// Governor admits callers against a shared fixed-window counter. The counter
// is global ephemeral state shared by every caller talking to the upstream
// provider; correctness of the cap is best-effort when the counter store
// degrades.
type Governor struct {
	counter interfaces.RateCounter
	cfg     Config
	logger  *common.Logger
}

// NewGovernor creates a governor over the shared counter.
func NewGovernor(counter interfaces.RateCounter, cfg Config, logger *common.Logger) *Governor {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Governor{
		counter: counter,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Acquire blocks until a request slot is available, then applies the
// cool-down and returns. The wait is a bounded loop: a full window is slept
// out at most MaxWaits times (the window may have just rolled over, so each
// wake re-checks the count). Counter-store failures degrade to a fixed small
// delay rather than blocking the caller indefinitely.
func (g *Governor) Acquire(ctx context.Context) error {
	for waits := 0; ; waits++ {
		count, err := g.counter.Count(ctx)
		if err != nil {
			g.logger.Warn().Err(err).Msg("Rate counter unreachable, degrading to fixed delay")
			return sleep(ctx, g.cfg.DegradedDelay)
		}

		if count >= g.cfg.MaxRequests {
			if waits >= g.cfg.MaxWaits {
				return ErrSaturated
			}
			remaining, err := g.counter.Remaining(ctx)
			if err != nil || remaining <= 0 {
				remaining = g.cfg.DegradedDelay
			}
			g.logger.Debug().
				Dur("remaining", remaining).
				Int64("count", count).
				Msg("Rate window full, waiting for reset")
			if err := sleep(ctx, remaining); err != nil {
				return err
			}
			continue
		}

		if _, err := g.counter.Increment(ctx, g.cfg.Window); err != nil {
			g.logger.Warn().Err(err).Msg("Rate counter increment failed, degrading to fixed delay")
			return sleep(ctx, g.cfg.DegradedDelay)
		}

		return sleep(ctx, g.cfg.Cooldown)
	}
}

// sleep waits for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
