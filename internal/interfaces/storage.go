package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/quotecache/internal/models"
)

// SeriesStore persists per-(symbol, interval) point data and the known covered
// date range. All writes are idempotent; concurrent callers may interleave
// freely and converge on the same stored state.
type SeriesStore interface {
	// GetRange returns the known covered range, or nil when no row exists.
	GetRange(ctx context.Context, symbol string, interval models.Interval) (*models.Series, error)

	// GetPoints returns stored points with trade dates in [from, to],
	// ascending by date.
	GetPoints(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Point, error)

	// InsertPoints upserts each point; re-inserting a date overwrites its
	// close (last-writer-wins). Points with zero trade dates are skipped.
	InsertPoints(ctx context.Context, points []models.Point) error

	// WidenRange merges new bounds into the stored range: oldest via min,
	// newest via max. A nil argument leaves that bound unchanged; a nil
	// stored bound adopts the argument outright. Commutative and idempotent
	// under concurrent callers.
	WidenRange(ctx context.Context, symbol string, interval models.Interval, newOldest, newNewest *time.Time) error

	// InitializeRange creates the range row. If a concurrent caller created
	// it first, falls back to WidenRange semantics instead of overwriting.
	InitializeRange(ctx context.Context, symbol string, interval models.Interval, oldest, newest time.Time) error
}
