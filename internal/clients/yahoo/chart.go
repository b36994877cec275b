package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/bobmcallan/quotecache/internal/interfaces"
	"github.com/bobmcallan/quotecache/internal/models"
)

// chartResponse mirrors the v8 chart payload
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetChart retrieves close points for a symbol, ascending by date. A valid
// symbol with no data in the requested range yields an empty slice, not an
// error.
func (c *Client) GetChart(ctx context.Context, symbol string, opts ...interfaces.ChartOption) ([]models.Point, error) {
	params := &interfaces.ChartParams{
		Interval: models.IntervalDaily,
	}
	for _, opt := range opts {
		opt(params)
	}

	urlParams := url.Values{}
	urlParams.Set("interval", string(params.Interval))
	urlParams.Set("events", "history")
	if !params.From.IsZero() && !params.To.IsZero() {
		// period2 is exclusive upstream, push it past the last requested day
		urlParams.Set("period1", strconv.FormatInt(models.Day(params.From).Unix(), 10))
		urlParams.Set("period2", strconv.FormatInt(models.Day(params.To).AddDate(0, 0, 1).Unix(), 10))
	} else {
		urlParams.Set("range", "1y")
	}

	path := fmt.Sprintf("/v8/finance/chart/%s", url.PathEscape(symbol))

	var resp chartResponse
	err := c.withRetry(ctx, path, func() error {
		resp = chartResponse{}
		return c.get(ctx, path, urlParams, &resp)
	})
	if err != nil {
		return nil, err
	}

	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart error for %s: %s (%s)",
			symbol, resp.Chart.Error.Description, resp.Chart.Error.Code)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	result := resp.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, nil
	}

	closes := result.Indicators.Quote[0].Close
	points := make([]models.Point, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		p := models.Point{
			Symbol:    symbol,
			Interval:  params.Interval,
			TradeDate: models.Day(time.Unix(ts, 0).UTC()),
		}
		if i < len(closes) {
			p.Close = closes[i]
		}
		points = append(points, p)
	}

	sort.Slice(points, func(i, j int) bool { return points[i].TradeDate.Before(points[j].TradeDate) })

	c.logger.Debug().
		Str("symbol", symbol).
		Str("interval", string(params.Interval)).
		Int("points", len(points)).
		Msg("Yahoo chart returned points")

	return points, nil
}
