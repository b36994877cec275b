package series

import (
	"sort"
	"time"

	"github.com/bobmcallan/quotecache/internal/models"
)

// mergePoints merges stored and newly fetched points keyed by trade date,
// with fetched values winning on collision, then sorts ascending and filters
// to [from, to].
func mergePoints(stored, fetched []models.Point, from, to time.Time) []models.Point {
	byDate := make(map[time.Time]models.Point, len(stored)+len(fetched))
	for _, p := range stored {
		byDate[models.Day(p.TradeDate)] = p
	}
	for _, p := range fetched {
		byDate[models.Day(p.TradeDate)] = p
	}

	merged := make([]models.Point, 0, len(byDate))
	for date, p := range byDate {
		if date.Before(from) || date.After(to) {
			continue
		}
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].TradeDate.Before(merged[j].TradeDate) })
	return merged
}
