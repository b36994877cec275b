// Package memory provides in-process implementations of the series store and
// coordination contracts, for single-process deployments and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/quotecache/internal/interfaces"
	"github.com/bobmcallan/quotecache/internal/models"
)

type seriesKey struct {
	symbol   string
	interval models.Interval
}

type rangeEntry struct {
	oldest    *time.Time
	newest    *time.Time
	updatedAt time.Time
}

// SeriesStore is an in-memory SeriesStore with the same merge semantics as the
// durable backend: last-writer-wins point upserts and min/max range widening.
type SeriesStore struct {
	mu     sync.RWMutex
	ranges map[seriesKey]*rangeEntry
	points map[seriesKey]map[time.Time]models.Point
}

// NewSeriesStore creates an empty in-memory series store.
func NewSeriesStore() *SeriesStore {
	return &SeriesStore{
		ranges: make(map[seriesKey]*rangeEntry),
		points: make(map[seriesKey]map[time.Time]models.Point),
	}
}

func (s *SeriesStore) GetRange(ctx context.Context, symbol string, interval models.Interval) (*models.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.ranges[seriesKey{symbol, interval}]
	if !ok {
		return nil, nil
	}
	return &models.Series{
		Symbol:     symbol,
		Interval:   interval,
		OldestDate: copyDate(entry.oldest),
		NewestDate: copyDate(entry.newest),
		UpdatedAt:  entry.updatedAt,
	}, nil
}

func (s *SeriesStore) GetPoints(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Point, error) {
	from, to = models.Day(from), models.Day(to)

	s.mu.RLock()
	defer s.mu.RUnlock()

	byDate := s.points[seriesKey{symbol, interval}]
	var out []models.Point
	for date, p := range byDate {
		if date.Before(from) || date.After(to) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeDate.Before(out[j].TradeDate) })
	return out, nil
}

func (s *SeriesStore) InsertPoints(ctx context.Context, points []models.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if p.TradeDate.IsZero() {
			continue // malformed upstream entry, skip silently
		}
		key := seriesKey{p.Symbol, p.Interval}
		byDate := s.points[key]
		if byDate == nil {
			byDate = make(map[time.Time]models.Point)
			s.points[key] = byDate
		}
		p.TradeDate = models.Day(p.TradeDate)
		byDate[p.TradeDate] = p
	}
	return nil
}

func (s *SeriesStore) WidenRange(ctx context.Context, symbol string, interval models.Interval, newOldest, newNewest *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.widenLocked(symbol, interval, newOldest, newNewest)
	return nil
}

func (s *SeriesStore) InitializeRange(ctx context.Context, symbol string, interval models.Interval, oldest, newest time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{symbol, interval}
	if _, ok := s.ranges[key]; ok {
		// Lost the creation race, merge instead of overwriting.
		s.widenLocked(symbol, interval, &oldest, &newest)
		return nil
	}
	o, n := models.Day(oldest), models.Day(newest)
	s.ranges[key] = &rangeEntry{oldest: &o, newest: &n, updatedAt: time.Now()}
	return nil
}

func (s *SeriesStore) widenLocked(symbol string, interval models.Interval, newOldest, newNewest *time.Time) {
	key := seriesKey{symbol, interval}
	entry, ok := s.ranges[key]
	if !ok {
		entry = &rangeEntry{}
		s.ranges[key] = entry
	}
	if newOldest != nil {
		o := models.Day(*newOldest)
		if entry.oldest == nil || o.Before(*entry.oldest) {
			entry.oldest = &o
		}
	}
	if newNewest != nil {
		n := models.Day(*newNewest)
		if entry.newest == nil || n.After(*entry.newest) {
			entry.newest = &n
		}
	}
	entry.updatedAt = time.Now()
}

func copyDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

var _ interfaces.SeriesStore = (*SeriesStore)(nil)
