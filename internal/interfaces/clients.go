// Package interfaces defines service contracts for quotecache
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/quotecache/internal/models"
)

// MarketDataClient provides access to the upstream market-data provider.
// Both calls block until a rate-limit slot is available, then execute with
// retry on throttle-classified errors.
type MarketDataClient interface {
	// GetQuotes retrieves a price snapshot for each symbol
	GetQuotes(ctx context.Context, symbols []string) ([]*models.Quote, error)

	// GetChart retrieves close points for a symbol over a date range,
	// ascending by date
	GetChart(ctx context.Context, symbol string, opts ...ChartOption) ([]models.Point, error)
}

// ChartOption configures chart requests
type ChartOption func(*ChartParams)

// ChartParams holds chart query parameters
type ChartParams struct {
	Interval models.Interval
	From     time.Time
	To       time.Time
}

// WithInterval sets the sampling interval for a chart query
func WithInterval(interval models.Interval) ChartOption {
	return func(p *ChartParams) {
		p.Interval = interval
	}
}

// WithDateRange sets the date range for a chart query
func WithDateRange(from, to time.Time) ChartOption {
	return func(p *ChartParams) {
		p.From = from
		p.To = to
	}
}
