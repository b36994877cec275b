// Package series implements the range reconciliation engine: given a symbol,
// interval, and requested date range it returns every available close point
// in the range while fetching only the missing edges from upstream.
package series

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/quotecache/internal/common"
	"github.com/bobmcallan/quotecache/internal/interfaces"
	"github.com/bobmcallan/quotecache/internal/models"
)

// Service orchestrates the store, the upstream client, the backfill lock, and
// the negative-result cache for one resolution call.
type Service struct {
	store    interfaces.SeriesStore
	client   interfaces.MarketDataClient
	lock     interfaces.BackfillLock
	negcache interfaces.NegativeCache
	logger   *common.Logger
}

// NewService creates a new reconciliation service
func NewService(
	store interfaces.SeriesStore,
	client interfaces.MarketDataClient,
	lock interfaces.BackfillLock,
	negcache interfaces.NegativeCache,
	logger *common.Logger,
) *Service {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{
		store:    store,
		client:   client,
		lock:     lock,
		negcache: negcache,
		logger:   logger,
	}
}

// Resolve returns the stored-plus-fetched point sequence covering [from, to]
// as completely as upstream data allows, ascending by date. Only a cold-start
// upstream failure or a store read failure is a hard error; backfill failures
// on a warm path degrade to whatever the store already holds.
func (s *Service) Resolve(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Point, error) {
	from, to = models.Day(from), models.Day(to)
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: from %s after to %s",
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	rng, err := s.store.GetRange(ctx, symbol, interval)
	if err != nil {
		return nil, fmt.Errorf("read series range: %w", err)
	}

	if rng == nil {
		return s.coldStart(ctx, symbol, interval, from, to)
	}

	staged := s.reconcileEdges(ctx, symbol, interval, rng, from, to)

	stored, err := s.store.GetPoints(ctx, symbol, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("read series points: %w", err)
	}

	return mergePoints(stored, staged, from, to), nil
}

// ResolveChart resolves the range and returns the array form of the sequence.
func (s *Service) ResolveChart(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) (*models.ChartSeries, error) {
	points, err := s.Resolve(ctx, symbol, interval, from, to)
	if err != nil {
		return nil, err
	}
	return models.NewChartSeries(symbol, interval, points), nil
}

// Quotes returns live price snapshots for the portfolio-valuation and
// chart-display collaborators.
func (s *Service) Quotes(ctx context.Context, symbols []string) ([]*models.Quote, error) {
	return s.client.GetQuotes(ctx, symbols)
}

// coldStart handles a key with no stored range: the first caller fetches the
// whole requested range in one call, outside the lock. Concurrent cold starts
// duplicate the fetch, which the idempotent store writes absorb.
func (s *Service) coldStart(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Point, error) {
	points, err := s.client.GetChart(ctx, symbol,
		interfaces.WithInterval(interval),
		interfaces.WithDateRange(from, to))
	if err != nil {
		// Nothing stored to fall back to.
		return nil, fmt.Errorf("cold-start fetch for %s/%s: %w", symbol, interval, err)
	}
	if len(points) == 0 {
		// No data available is a valid empty result, not a failure.
		return []models.Point{}, nil
	}

	if err := s.store.InsertPoints(ctx, points); err != nil {
		return nil, fmt.Errorf("persist cold-start points: %w", err)
	}
	oldest := points[0].TradeDate
	newest := points[len(points)-1].TradeDate
	if err := s.store.InitializeRange(ctx, symbol, interval, oldest, newest); err != nil {
		return nil, fmt.Errorf("initialize series range: %w", err)
	}

	s.logger.Info().
		Str("symbol", symbol).
		Str("interval", string(interval)).
		Str("oldest", oldest.Format("2006-01-02")).
		Str("newest", newest.Format("2006-01-02")).
		Int("points", len(points)).
		Msg("Cold-start fetch stored")

	return points, nil
}

// reconcileEdges decides which edges of the requested range are missing,
// fetches them under the advisory lock, and returns any newly fetched points
// for the in-memory merge. All failures here are logged and swallowed; the
// response degrades to stored coverage.
func (s *Service) reconcileEdges(ctx context.Context, symbol string, interval models.Interval, rng *models.Series, from, to time.Time) []models.Point {
	if !rng.HasBounds() {
		// Range row left without bounds by an incomplete initialization:
		// treat both edges as missing and fetch the requested bounds
		// directly instead of computing malformed sub-ranges.
		return s.backfillUnderLock(ctx, symbol, interval, func() []models.Point {
			return s.fetchWhole(ctx, symbol, interval, from, to)
		})
	}

	oldest := models.Day(*rng.OldestDate)
	newest := models.Day(*rng.NewestDate)

	needOlder := from.Before(oldest)
	needNewer := to.After(newest)
	if needOlder && s.negcache.HasNoOlderData(ctx, symbol, interval) {
		s.logger.Debug().
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Msg("No-older-data marker present, skipping older backfill")
		needOlder = false
	}
	if !needOlder && !needNewer {
		return nil
	}

	return s.backfillUnderLock(ctx, symbol, interval, func() []models.Point {
		var staged []models.Point
		if needOlder {
			staged = append(staged, s.backfillOlder(ctx, symbol, interval, from, oldest)...)
		}
		if needNewer {
			staged = append(staged, s.backfillNewer(ctx, symbol, interval, newest, to)...)
		}
		return staged
	})
}

// backfillUnderLock runs fn only when the advisory lock is granted. A lock
// store error counts as granted: this is a deliberate fail-open choice, since
// a duplicate fetch is absorbed by idempotent store writes but skipping the
// fetch would cost data availability. Denial means another caller is already
// filling the gap, so this call serves stored coverage.
func (s *Service) backfillUnderLock(ctx context.Context, symbol string, interval models.Interval, fn func() []models.Point) []models.Point {
	granted, err := s.lock.TryAcquire(ctx, symbol, interval)
	if err != nil {
		s.logger.Warn().
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Err(err).
			Msg("Lock acquisition failed, continuing anyway, inserts are idempotent")
		granted = true
	}
	if !granted {
		s.logger.Debug().
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Msg("Backfill already in flight elsewhere, serving stored coverage")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx, symbol, interval); err != nil {
			s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to release backfill lock")
		}
	}()

	return fn()
}

// backfillOlder fetches [from, oldest-1] and extends the range downward. Zero
// points sets the no-older-data marker so repeat requests skip this edge
// until the marker expires.
func (s *Service) backfillOlder(ctx context.Context, symbol string, interval models.Interval, from, oldest time.Time) []models.Point {
	edgeTo := oldest.AddDate(0, 0, -1)
	if edgeTo.Before(from) {
		return nil
	}

	points, err := s.client.GetChart(ctx, symbol,
		interfaces.WithInterval(interval),
		interfaces.WithDateRange(from, edgeTo))
	if err != nil {
		s.logger.Warn().
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Err(err).
			Msg("Older-edge backfill failed, serving stored coverage")
		return nil
	}
	if len(points) == 0 {
		if err := s.negcache.MarkNoOlderData(ctx, symbol, interval); err != nil {
			s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to set no-older-data marker")
		}
		return nil
	}

	if err := s.store.InsertPoints(ctx, points); err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to persist older-edge points")
		return nil
	}
	newOldest := points[0].TradeDate
	if err := s.store.WidenRange(ctx, symbol, interval, &newOldest, nil); err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to widen range downward")
	}
	return points
}

// backfillNewer fetches [newest+1, to] and extends the range upward. There is
// no negative-cache on this edge; newer data is always expected eventually.
func (s *Service) backfillNewer(ctx context.Context, symbol string, interval models.Interval, newest, to time.Time) []models.Point {
	edgeFrom := newest.AddDate(0, 0, 1)
	if to.Before(edgeFrom) {
		return nil
	}

	points, err := s.client.GetChart(ctx, symbol,
		interfaces.WithInterval(interval),
		interfaces.WithDateRange(edgeFrom, to))
	if err != nil {
		s.logger.Warn().
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Err(err).
			Msg("Newer-edge backfill failed, serving stored coverage")
		return nil
	}
	if len(points) == 0 {
		return nil
	}

	if err := s.store.InsertPoints(ctx, points); err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to persist newer-edge points")
		return nil
	}
	newNewest := points[len(points)-1].TradeDate
	if err := s.store.WidenRange(ctx, symbol, interval, nil, &newNewest); err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to widen range upward")
	}
	return points
}

// fetchWhole fetches the full requested range, used when the stored range row
// carries no usable bounds. Fetched bounds widen both sides of the range.
func (s *Service) fetchWhole(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) []models.Point {
	points, err := s.client.GetChart(ctx, symbol,
		interfaces.WithInterval(interval),
		interfaces.WithDateRange(from, to))
	if err != nil {
		s.logger.Warn().
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Err(err).
			Msg("Bounds-repair fetch failed, serving stored coverage")
		return nil
	}
	if len(points) == 0 {
		return nil
	}

	if err := s.store.InsertPoints(ctx, points); err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to persist bounds-repair points")
		return nil
	}
	oldest := points[0].TradeDate
	newest := points[len(points)-1].TradeDate
	if err := s.store.WidenRange(ctx, symbol, interval, &oldest, &newest); err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to widen repaired range")
	}
	return points
}
