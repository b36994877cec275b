// Package postgres implements the durable series store on PostgreSQL with
// merge-safe writes: unique-key upserts for points and LEAST/GREATEST range
// widening, so concurrent writers converge regardless of interleaving.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bobmcallan/quotecache/internal/common"
	"github.com/bobmcallan/quotecache/internal/interfaces"
	"github.com/bobmcallan/quotecache/internal/models"
)

// Store is the PostgreSQL-backed SeriesStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *common.Logger
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg common.PostgresConfig, logger *common.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if logger == nil {
		logger = common.NewSilentLogger()
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Health verifies the connection is usable.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate creates the series tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS series_ranges (
    symbol      TEXT NOT NULL,
    "interval"  TEXT NOT NULL,
    oldest_date DATE,
    newest_date DATE,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (symbol, "interval")
);
CREATE TABLE IF NOT EXISTS series_points (
    symbol     TEXT NOT NULL,
    "interval" TEXT NOT NULL,
    trade_date DATE NOT NULL,
    close      DOUBLE PRECISION,
    PRIMARY KEY (symbol, "interval", trade_date)
);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate series tables: %w", err)
	}
	return nil
}

func (s *Store) GetRange(ctx context.Context, symbol string, interval models.Interval) (*models.Series, error) {
	const q = `
SELECT oldest_date, newest_date, updated_at
FROM series_ranges
WHERE symbol = $1 AND "interval" = $2`

	series := &models.Series{Symbol: symbol, Interval: interval}
	err := s.pool.QueryRow(ctx, q, symbol, string(interval)).
		Scan(&series.OldestDate, &series.NewestDate, &series.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select series range: %w", err)
	}
	return series, nil
}

func (s *Store) GetPoints(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Point, error) {
	const q = `
SELECT trade_date, close
FROM series_points
WHERE symbol = $1 AND "interval" = $2 AND trade_date BETWEEN $3 AND $4
ORDER BY trade_date ASC`

	rows, err := s.pool.Query(ctx, q, symbol, string(interval), models.Day(from), models.Day(to))
	if err != nil {
		return nil, fmt.Errorf("select series points: %w", err)
	}
	defer rows.Close()

	var points []models.Point
	for rows.Next() {
		p := models.Point{Symbol: symbol, Interval: interval}
		if err := rows.Scan(&p.TradeDate, &p.Close); err != nil {
			return nil, fmt.Errorf("scan series point: %w", err)
		}
		p.TradeDate = models.Day(p.TradeDate)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate series points: %w", err)
	}
	return points, nil
}

func (s *Store) InsertPoints(ctx context.Context, points []models.Point) error {
	if len(points) == 0 {
		return nil
	}

	const q = `
INSERT INTO series_points (symbol, "interval", trade_date, close)
VALUES ($1, $2, $3, $4)
ON CONFLICT (symbol, "interval", trade_date) DO UPDATE SET close = EXCLUDED.close`

	batch := &pgx.Batch{}
	queued := 0
	for _, p := range points {
		if p.TradeDate.IsZero() {
			continue // malformed upstream entry, skip silently
		}
		batch.Queue(q, p.Symbol, string(p.Interval), models.Day(p.TradeDate), p.Close)
		queued++
	}
	if queued == 0 {
		return nil
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < queued; i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert series point: %w", err)
		}
	}
	return nil
}

func (s *Store) WidenRange(ctx context.Context, symbol string, interval models.Interval, newOldest, newNewest *time.Time) error {
	const q = `
INSERT INTO series_ranges (symbol, "interval", oldest_date, newest_date)
VALUES ($1, $2, $3, $4)
ON CONFLICT (symbol, "interval") DO UPDATE SET
    oldest_date = CASE
        WHEN EXCLUDED.oldest_date IS NULL THEN series_ranges.oldest_date
        ELSE LEAST(COALESCE(series_ranges.oldest_date, EXCLUDED.oldest_date), EXCLUDED.oldest_date)
    END,
    newest_date = CASE
        WHEN EXCLUDED.newest_date IS NULL THEN series_ranges.newest_date
        ELSE GREATEST(COALESCE(series_ranges.newest_date, EXCLUDED.newest_date), EXCLUDED.newest_date)
    END,
    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, symbol, string(interval), dayArg(newOldest), dayArg(newNewest)); err != nil {
		return fmt.Errorf("widen series range: %w", err)
	}
	return nil
}

func (s *Store) InitializeRange(ctx context.Context, symbol string, interval models.Interval, oldest, newest time.Time) error {
	// A concurrent creation race falls back to widen semantics via the same
	// ON CONFLICT merge, never overwriting established bounds.
	o, n := models.Day(oldest), models.Day(newest)
	return s.WidenRange(ctx, symbol, interval, &o, &n)
}

func dayArg(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := models.Day(*t)
	return &d
}

var _ interfaces.SeriesStore = (*Store)(nil)
