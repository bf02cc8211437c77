package pipeline

import (
	"math"
	"sort"

	"github.com/fadingview/marketd/internal/market"
)

// Intraday bad-print suppression. The vendor occasionally emits a one-off
// bar at the wrong scale; dropping only extreme, unconfirmed moves keeps
// real gaps while removing cliff candles.
const (
	outlierWindow     = 48
	outlierMinPeriods = 12
	outlierDevPct     = 0.35
	outlierRangePct   = 0.03
	outlierConfirmPct = 0.12
)

func filterIntradayOutliers(bars []market.Bar, tf string, is247 bool) []market.Bar {
	if len(bars) == 0 || is247 || market.IsDailyOrWeekly(tf) {
		return bars
	}
	n := len(bars)
	drop := make([]bool, n)
	dropped := 0
	for i := 0; i < n; i++ {
		baseline := shiftedRollingMedian(bars, i)
		if math.IsNaN(baseline) {
			baseline = expandingMedian(bars, i)
		}
		if math.IsNaN(baseline) || baseline == 0 {
			continue
		}
		c := bars[i].Close
		dev := math.Abs(c-baseline) / baseline
		rng := math.Abs(bars[i].High-bars[i].Low) / baseline
		if !(dev > outlierDevPct && rng > outlierRangePct) {
			continue
		}
		confirmed := false
		if i+1 < n && c != 0 && !math.IsNaN(c) {
			next := bars[i+1].Close
			if !math.IsNaN(next) {
				confirmed = math.Abs(next-c)/math.Abs(c) <= outlierConfirmPct
			}
		}
		if !confirmed {
			drop[i] = true
			dropped++
		}
	}
	if dropped == 0 {
		return bars
	}
	kept := make([]market.Bar, 0, n-dropped)
	for i, bar := range bars {
		if !drop[i] {
			kept = append(kept, bar)
		}
	}
	return kept
}

// shiftedRollingMedian is the median of the previous outlierWindow closes
// (the current bar excluded), NaN until outlierMinPeriods values exist.
func shiftedRollingMedian(bars []market.Bar, i int) float64 {
	lo := i - outlierWindow
	if lo < 0 {
		lo = 0
	}
	vals := make([]float64, 0, i-lo)
	for j := lo; j < i; j++ {
		if !math.IsNaN(bars[j].Close) {
			vals = append(vals, bars[j].Close)
		}
	}
	if len(vals) < outlierMinPeriods {
		return math.NaN()
	}
	return median(vals)
}

// expandingMedian is the median of closes[0..i] inclusive, covering the
// leading bars the rolling window cannot.
func expandingMedian(bars []market.Bar, i int) float64 {
	vals := make([]float64, 0, i+1)
	for j := 0; j <= i; j++ {
		if !math.IsNaN(bars[j].Close) {
			vals = append(vals, bars[j].Close)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	return median(vals)
}

// filterExtOutliers drops extended-hours bars whose range dwarfs recent
// regular-session ranges, unless real volume backs the move.
func filterExtOutliers(ext, reference []market.Bar) []market.Bar {
	if len(ext) == 0 || len(reference) == 0 {
		return ext
	}
	ranges := make([]float64, 0, len(reference))
	for _, b := range reference {
		r := b.High - b.Low
		if !math.IsNaN(r) {
			ranges = append(ranges, r)
		}
	}
	if len(ranges) == 0 {
		return ext
	}
	recent := tailFloats(ranges, 200)
	med := median(recent)
	iqr := quantile(recent, 0.75) - quantile(recent, 0.25)
	base := med * 4
	if iqr > 0 {
		base = med + 4*iqr
	}
	lastClose := reference[len(reference)-1].Close
	threshold := math.Max(base, lastClose*0.015)

	vols := make([]float64, 0, len(reference))
	for _, b := range reference {
		if !math.IsNaN(b.Volume) {
			vols = append(vols, b.Volume)
		}
	}
	var volMedian float64
	if len(vols) > 0 {
		volMedian = median(tailFloats(vols, 200))
	}

	kept := make([]market.Bar, 0, len(ext))
	for _, b := range ext {
		rng := b.High - b.Low
		withinRange := rng <= threshold
		if volMedian > 0 {
			vol := b.Volume
			if math.IsNaN(vol) {
				vol = 0
			}
			if withinRange || vol > volMedian*0.1 {
				kept = append(kept, b)
			}
			continue
		}
		if withinRange {
			kept = append(kept, b)
		}
	}
	return kept
}

func tailFloats(vals []float64, n int) []float64 {
	if len(vals) <= n {
		return vals
	}
	return vals[len(vals)-n:]
}

// median matches the interpolating definition used throughout: mean of
// the two middle values for even counts.
func median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// quantile uses linear interpolation between closest ranks.
func quantile(vals []float64, q float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	h := float64(len(sorted)-1) * q
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}
