// Package yahoo provides a rate-limited client for the Yahoo Finance API
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/quotecache/internal/common"
	"github.com/bobmcallan/quotecache/internal/interfaces"
	"github.com/bobmcallan/quotecache/internal/ratelimit"
)

const (
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultCookieURL = "https://fc.yahoo.com"
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "quotecache/1.0"

	defaultMaxAttempts = 8
	defaultRetryBase   = 2000 * time.Millisecond
)

// Client implements the MarketDataClient interface against Yahoo Finance.
// Every request passes the shared window governor, then a process-local
// limiter, then executes with throttle-aware retry.
type Client struct {
	baseURL     string
	cookieURL   string
	userAgent   string
	httpClient  *http.Client
	logger      *common.Logger
	limiter     *rate.Limiter
	governor    *ratelimit.Governor
	maxAttempts int
	retryBase   time.Duration

	mu    sync.Mutex
	crumb string
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithCookieURL sets the session-cookie seeding URL
func WithCookieURL(cookieURL string) ClientOption {
	return func(c *Client) {
		c.cookieURL = cookieURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the process-local request rate
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithGovernor sets the shared window governor
func WithGovernor(g *ratelimit.Governor) ClientOption {
	return func(c *Client) {
		c.governor = g
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRetry sets the retry budget and backoff base
func WithRetry(maxAttempts int, base time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if base > 0 {
			c.retryBase = base
		}
	}
}

// NewClient creates a new Yahoo Finance client
func NewClient(opts ...ClientOption) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL:   DefaultBaseURL,
		cookieURL: DefaultCookieURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Jar:     jar,
		},
		limiter:     rate.NewLimiter(rate.Every(time.Second), 2),
		logger:      common.NewSilentLogger(),
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// get performs one rate-limited GET request against the API.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	// Process-local smoothing first, then the shared window governor.
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if c.governor != nil {
		if err := c.governor.Acquire(ctx); err != nil {
			return fmt.Errorf("rate governor: %w", err)
		}
	}

	if params == nil {
		params = url.Values{}
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug().Str("url", c.baseURL+path).Msg("Yahoo API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// ensureCrumb negotiates the cookie+crumb session Yahoo requires on the quote
// endpoint. Any failure here is session negotiation noise, classified as
// transient by the retry layer.
func (c *Client) ensureCrumb(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.crumb != "" {
		return c.crumb, nil
	}

	// Seed the session cookie; the response status is irrelevant.
	if c.cookieURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cookieURL, nil)
		if err != nil {
			return "", &crumbError{cause: err}
		}
		req.Header.Set("User-Agent", c.userAgent)
		if resp, err := c.httpClient.Do(req); err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/test/getcrumb", nil)
	if err != nil {
		return "", &crumbError{cause: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &crumbError{cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return "", &crumbError{cause: fmt.Errorf("getcrumb status %d", resp.StatusCode)}
	}

	crumb := strings.TrimSpace(string(body))
	if crumb == "" {
		return "", &crumbError{cause: fmt.Errorf("empty crumb")}
	}

	c.crumb = crumb
	return crumb, nil
}

// invalidateCrumb drops the cached crumb so the next attempt renegotiates.
func (c *Client) invalidateCrumb() {
	c.mu.Lock()
	c.crumb = ""
	c.mu.Unlock()
}

// Ensure Client implements MarketDataClient
var _ interfaces.MarketDataClient = (*Client)(nil)
