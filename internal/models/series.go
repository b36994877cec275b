// Package models defines data structures for quotecache
package models

import (
	"time"
)

// Interval identifies the sampling interval of a series ("1d", "1wk", "1mo").
type Interval string

const (
	IntervalDaily   Interval = "1d"
	IntervalWeekly  Interval = "1wk"
	IntervalMonthly Interval = "1mo"
)

// Series holds the identity and known-good date range for one (symbol, interval)
// pair. OldestDate/NewestDate are inclusive bounds of the range for which every
// available point is stored; both are nil until the first successful fetch.
// The range only ever widens via min/max merge, never shrinks.
type Series struct {
	Symbol     string     `json:"symbol"`
	Interval   Interval   `json:"interval"`
	OldestDate *time.Time `json:"oldest_date,omitempty"`
	NewestDate *time.Time `json:"newest_date,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HasBounds reports whether both range bounds are present. A range row can
// exist with null bounds after an incomplete initialization; callers must
// treat that the same as no coverage at all.
func (s *Series) HasBounds() bool {
	return s != nil && s.OldestDate != nil && s.NewestDate != nil
}

// Point is a single trade date's closing value for a series. Close is nil when
// the upstream reported the date without a usable close (halted, no trades).
type Point struct {
	Symbol    string    `json:"symbol"`
	Interval  Interval  `json:"interval"`
	TradeDate time.Time `json:"trade_date"`
	Close     *float64  `json:"close"`
}

// Quote holds a per-symbol price snapshot from the upstream provider.
type Quote struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Change     float64   `json:"change"`
	ChangePct  float64   `json:"change_percent"`
	Currency   string    `json:"currency,omitempty"`
	MarketTime time.Time `json:"market_time"`
}

// ChartSeries is the array form of a resolved point sequence: parallel slices
// of epoch seconds (UTC midnight of the trade date) and closes. Both this and
// the point form are derived from the same merged sequence.
type ChartSeries struct {
	Symbol     string     `json:"symbol"`
	Interval   Interval   `json:"interval"`
	Timestamps []int64    `json:"timestamps"`
	Closes     []*float64 `json:"closes"`
}

// Day normalizes t to a calendar date: UTC midnight with the time of day
// stripped.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewChartSeries converts an ascending point sequence into its array form.
func NewChartSeries(symbol string, interval Interval, points []Point) *ChartSeries {
	cs := &ChartSeries{
		Symbol:     symbol,
		Interval:   interval,
		Timestamps: make([]int64, len(points)),
		Closes:     make([]*float64, len(points)),
	}
	for i, p := range points {
		cs.Timestamps[i] = Day(p.TradeDate).Unix()
		cs.Closes[i] = p.Close
	}
	return cs
}
