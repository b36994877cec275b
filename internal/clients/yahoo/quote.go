package yahoo

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bobmcallan/quotecache/internal/models"
)

// quoteResponse mirrors the v7 quote payload
type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol                     string  `json:"symbol"`
			RegularMarketPrice         float64 `json:"regularMarketPrice"`
			RegularMarketChange        float64 `json:"regularMarketChange"`
			RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
			RegularMarketTime          int64   `json:"regularMarketTime"`
			Currency                   string  `json:"currency"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

// GetQuotes retrieves a price snapshot for each symbol. The quote endpoint
// requires a negotiated crumb; an invalidated session is renegotiated on the
// next retry attempt.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) ([]*models.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	const path = "/v7/finance/quote"

	var resp quoteResponse
	err := c.withRetry(ctx, path, func() error {
		crumb, err := c.ensureCrumb(ctx)
		if err != nil {
			return err
		}

		params := url.Values{}
		params.Set("symbols", strings.Join(symbols, ","))
		params.Set("crumb", crumb)

		resp = quoteResponse{}
		if err := c.get(ctx, path, params, &resp); err != nil {
			if isSessionRejection(err) {
				c.invalidateCrumb()
				return &crumbError{cause: err}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	quotes := make([]*models.Quote, 0, len(resp.QuoteResponse.Result))
	for _, r := range resp.QuoteResponse.Result {
		quotes = append(quotes, &models.Quote{
			Symbol:     r.Symbol,
			Price:      r.RegularMarketPrice,
			Change:     r.RegularMarketChange,
			ChangePct:  r.RegularMarketChangePercent,
			Currency:   r.Currency,
			MarketTime: time.Unix(r.RegularMarketTime, 0).UTC(),
		})
	}

	return quotes, nil
}

// isSessionRejection reports whether the upstream rejected the current
// cookie/crumb session.
func isSessionRejection(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	if ae.StatusCode == 401 || ae.StatusCode == 403 {
		return true
	}
	return strings.Contains(strings.ToLower(ae.Message), "invalid crumb")
}
