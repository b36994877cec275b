package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quotecache/internal/interfaces"
	"github.com/bobmcallan/quotecache/internal/models"
	"github.com/bobmcallan/quotecache/internal/ratelimit"
)

const chartPayload = `{
	"chart": {
		"result": [{
			"timestamp": [1704153600, 1704240000, 1704326400],
			"indicators": {
				"quote": [{"close": [185.64, null, 184.25]}]
			}
		}],
		"error": null
	}
}`

func newTestClient(ts *httptest.Server, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithBaseURL(ts.URL),
		WithCookieURL(""),
		WithRateLimit(1000),
		WithRetry(3, time.Millisecond),
	}
	return NewClient(append(base, opts...)...)
}

func TestGetChartParsesPoints(t *testing.T) {
	var gotQuery atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		fmt.Fprint(w, chartPayload)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	points, err := c.GetChart(context.Background(), "AAPL",
		interfaces.WithInterval(models.IntervalDaily),
		interfaces.WithDateRange(
			time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), points[0].TradeDate)
	require.NotNil(t, points[0].Close)
	assert.Equal(t, 185.64, *points[0].Close)
	// A halted trading day keeps its slot with a nil close.
	assert.Nil(t, points[1].Close)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), points[2].TradeDate)

	query := gotQuery.Load().(url.Values)
	assert.Equal(t, "1d", query.Get("interval"))
	assert.Equal(t, "1704153600", query.Get("period1"))
	// period2 is exclusive: one day past the last requested date.
	assert.Equal(t, "1704412800", query.Get("period2"))
}

func TestGetChartDefaultsToYearRange(t *testing.T) {
	var gotQuery atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		fmt.Fprint(w, chartPayload)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.GetChart(context.Background(), "AAPL")
	require.NoError(t, err)

	query := gotQuery.Load().(url.Values)
	assert.Equal(t, "1y", query.Get("range"))
	assert.Empty(t, query.Get("period1"))
}

func TestGetChartEmptyResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart": {"result": [], "error": null}}`)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	points, err := c.GetChart(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestGetChartUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart": {"result": null, "error": {"code": "Not Found", "description": "No data found, symbol may be delisted"}}}`)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.GetChart(context.Background(), "BOGUS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delisted")
}

func TestGetChartNoRetryOnHardFailure(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.GetChart(context.Background(), "AAPL")
	require.Error(t, err)

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusInternalServerError, ae.StatusCode)
	// Hard failures are not retried.
	assert.Equal(t, int32(1), requests.Load())
}

func TestGetChartRetriesThrottling(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, chartPayload)
	}))
	defer ts.Close()

	c := newTestClient(ts, WithRetry(5, time.Millisecond))
	points, err := c.GetChart(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Len(t, points, 3)
	assert.Equal(t, int32(3), requests.Load())
}

func TestGetChartExhaustsRetryBudget(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.GetChart(context.Background(), "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, int32(3), requests.Load())
}

func TestGetChartRetryHonorsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(ts, WithRetry(8, time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.GetChart(ctx, "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetQuotesNegotiatesCrumb(t *testing.T) {
	var crumbRequests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/test/getcrumb", func(w http.ResponseWriter, r *http.Request) {
		crumbRequests.Add(1)
		fmt.Fprint(w, "crumb-token")
	})
	mux.HandleFunc("/v7/finance/quote", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crumb-token", r.URL.Query().Get("crumb"))
		assert.Equal(t, "AAPL,MSFT", r.URL.Query().Get("symbols"))
		fmt.Fprint(w, `{"quoteResponse": {"result": [
			{"symbol": "AAPL", "regularMarketPrice": 185.64, "regularMarketChange": 1.2, "regularMarketChangePercent": 0.65, "regularMarketTime": 1704240000, "currency": "USD"},
			{"symbol": "MSFT", "regularMarketPrice": 376.04, "regularMarketTime": 1704240000, "currency": "USD"}
		], "error": null}}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := newTestClient(ts)
	quotes, err := c.GetQuotes(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "AAPL", quotes[0].Symbol)
	assert.Equal(t, 185.64, quotes[0].Price)
	assert.Equal(t, "USD", quotes[0].Currency)

	// Second call reuses the cached crumb.
	_, err = c.GetQuotes(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), crumbRequests.Load())
}

func TestGetQuotesRenegotiatesRejectedSession(t *testing.T) {
	var crumbRequests, quoteRequests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/test/getcrumb", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "crumb-%d", crumbRequests.Add(1))
	})
	mux.HandleFunc("/v7/finance/quote", func(w http.ResponseWriter, r *http.Request) {
		if quoteRequests.Add(1) == 1 {
			http.Error(w, "Invalid Crumb", http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "crumb-2", r.URL.Query().Get("crumb"))
		fmt.Fprint(w, `{"quoteResponse": {"result": [{"symbol": "AAPL", "regularMarketPrice": 185.64, "regularMarketTime": 1704240000}], "error": null}}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := newTestClient(ts)
	quotes, err := c.GetQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, int32(2), crumbRequests.Load())
	assert.Equal(t, int32(2), quoteRequests.Load())
}

func TestGetQuotesNoSymbols(t *testing.T) {
	c := NewClient()
	quotes, err := c.GetQuotes(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, quotes)
}

func TestThrottleClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		throttle bool
	}{
		{"nil", nil, false},
		{"status 429", &APIError{StatusCode: 429, Message: "slow down"}, true},
		{"message text", &APIError{StatusCode: 500, Message: "Too Many Requests"}, true},
		{"plain 500", &APIError{StatusCode: 500, Message: "internal error"}, false},
		{"saturated window", fmt.Errorf("rate governor: %w", ratelimit.ErrSaturated), true},
		{"session negotiation", &crumbError{cause: errors.New("getcrumb status 502")}, true},
		{"ordinary error", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.throttle, isThrottle(tt.err))
		})
	}
}
