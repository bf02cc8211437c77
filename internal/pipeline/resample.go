package pipeline

import (
	"math"
	"sort"
	"time"

	"github.com/fadingview/marketd/internal/market"
)

// resample4h folds hourly bars into 4-hour buckets aligned to local
// midnight of the frame's exchange timezone: first open, max high, min
// low, last close, summed volume. Buckets missing any OHLC component are
// dropped.
func resample4h(bars []market.Bar, tz string) []market.Bar {
	if len(bars) == 0 {
		return bars
	}
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}

	type bucket struct {
		open, high, low, close float64
		volume                 float64
		seen                   bool
	}
	buckets := make(map[int64]*bucket)
	for _, b := range bars {
		local := time.Unix(b.Time, 0).In(loc)
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		slot := int(local.Sub(midnight).Hours()) / 4
		start := midnight.Add(time.Duration(slot) * 4 * time.Hour).Unix()

		bk, ok := buckets[start]
		if !ok {
			bk = &bucket{high: math.Inf(-1), low: math.Inf(1)}
			buckets[start] = bk
		}
		if math.IsNaN(b.Open) || math.IsNaN(b.High) || math.IsNaN(b.Low) || math.IsNaN(b.Close) {
			continue
		}
		if !bk.seen {
			bk.open = b.Open
			bk.seen = true
		}
		bk.high = math.Max(bk.high, b.High)
		bk.low = math.Min(bk.low, b.Low)
		bk.close = b.Close
		if !math.IsNaN(b.Volume) {
			bk.volume += b.Volume
		}
	}

	starts := make([]int64, 0, len(buckets))
	for start, bk := range buckets {
		if bk.seen {
			starts = append(starts, start)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	out := make([]market.Bar, 0, len(starts))
	for _, start := range starts {
		bk := buckets[start]
		out = append(out, market.Bar{
			Time:   start,
			Open:   bk.open,
			High:   bk.high,
			Low:    bk.low,
			Close:  bk.close,
			Volume: bk.volume,
		})
	}
	return out
}
