package yahoo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/quotecache/internal/ratelimit"
)

// ErrMaxRetries is returned when every retry attempt was consumed by
// throttle-classified failures.
var ErrMaxRetries = errors.New("yahoo: max retries exceeded")

// APIError represents a non-200 API response
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("yahoo API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// crumbError marks a failed cookie/crumb session negotiation. Yahoo rotates
// sessions under load, so these are retried like throttling.
type crumbError struct {
	cause error
}

func (e *crumbError) Error() string {
	return fmt.Sprintf("yahoo session negotiation failed: %v", e.cause)
}

func (e *crumbError) Unwrap() error {
	return e.cause
}

// isThrottle classifies an error as transient upstream throttling: HTTP 429,
// a "too many requests" message, session negotiation failure, or a saturated
// rate window. Everything else propagates without retry.
func isThrottle(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ratelimit.ErrSaturated) {
		return true
	}
	var ce *crumbError
	if errors.As(err, &ce) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		if ae.StatusCode == 429 {
			return true
		}
		return strings.Contains(strings.ToLower(ae.Message), "too many requests")
	}
	return strings.Contains(strings.ToLower(err.Error()), "too many requests")
}

// withRetry runs fn up to the client's attempt budget, backing off
// exponentially (retryBase × 2^attempt) between throttle-classified failures.
func (c *Client) withRetry(ctx context.Context, endpoint string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isThrottle(err) {
			return err
		}
		lastErr = err

		if attempt == c.maxAttempts-1 {
			break
		}

		delay := c.retryBase * (1 << attempt)
		c.logger.Debug().
			Str("endpoint", endpoint).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Err(err).
			Msg("Throttled by upstream, backing off")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w for %s: %v", ErrMaxRetries, endpoint, lastErr)
}
