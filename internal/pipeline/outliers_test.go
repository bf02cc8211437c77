package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadingview/marketd/internal/market"
)

func flatBars(n int, price float64) []market.Bar {
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Time:   int64(i * 300),
			Open:   price,
			High:   price + 0.3,
			Low:    price - 0.3,
			Close:  price,
			Volume: 1000,
		}
	}
	return bars
}

func TestIntradayOutlierDropsUnconfirmedSpike(t *testing.T) {
	bars := flatBars(50, 100)
	// One bad print 40% above baseline with a wide range, reverting on
	// the next bar.
	bars[30].Close = 140
	bars[30].High = 141
	bars[30].Low = 99

	kept := filterIntradayOutliers(bars, "5m", false)
	require.Len(t, kept, 49)
	for _, b := range kept {
		assert.NotEqual(t, float64(140), b.Close)
	}
}

func TestIntradayOutlierKeepsConfirmedMove(t *testing.T) {
	bars := flatBars(50, 100)
	// A real 40% gap: a wide gap bar, then the series settles at the new
	// level with ordinary ranges.
	bars[30].Close = 140
	bars[30].High = 141
	bars[30].Low = 99
	for i := 31; i < 50; i++ {
		bars[i].Open = 140
		bars[i].Close = 140
		bars[i].High = 140.3
		bars[i].Low = 139.7
	}
	kept := filterIntradayOutliers(bars, "5m", false)
	assert.Len(t, kept, 50, "confirmed moves survive")
}

func TestIntradayOutlierKeepsSmallMove(t *testing.T) {
	bars := flatBars(50, 100)
	// ±5% is nowhere near the 35% deviation gate.
	bars[25].Close = 105
	bars[25].High = 106
	bars[25].Low = 99

	kept := filterIntradayOutliers(bars, "5m", false)
	assert.Len(t, kept, 50)
}

func TestIntradayOutlierSkips247AndDaily(t *testing.T) {
	bars := flatBars(50, 100)
	bars[30].Close = 140
	bars[30].High = 141
	bars[30].Low = 99

	assert.Len(t, filterIntradayOutliers(bars, "5m", true), 50)
	assert.Len(t, filterIntradayOutliers(bars, "1d", false), 50)
}

func TestExtOutlierRangeGate(t *testing.T) {
	reference := flatBars(100, 100) // ranges of 0.6
	ext := []market.Bar{
		{Time: 1, Open: 100, High: 100.4, Low: 100, Close: 100.2, Volume: 1},
		{Time: 2, Open: 100, High: 160, Low: 90, Close: 150, Volume: 1},
	}
	kept := filterExtOutliers(ext, reference)
	require.Len(t, kept, 1)
	assert.Equal(t, int64(1), kept[0].Time)
}

func TestExtOutlierVolumeOverride(t *testing.T) {
	reference := flatBars(100, 100)
	ext := []market.Bar{
		// Same wild range, but volume well above 10% of the reference
		// median backs the move.
		{Time: 2, Open: 100, High: 160, Low: 90, Close: 150, Volume: 500},
	}
	kept := filterExtOutliers(ext, reference)
	assert.Len(t, kept, 1)
}

func TestMedianAndQuantile(t *testing.T) {
	assert.InDelta(t, 2, median([]float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 2.5, median([]float64{1, 2, 3, 4}), 1e-9)
	assert.InDelta(t, 1, quantile([]float64{1, 2, 3}, 0), 1e-9)
	assert.InDelta(t, 3, quantile([]float64{1, 2, 3}, 1), 1e-9)
	assert.InDelta(t, 2, quantile([]float64{1, 2, 3}, 0.5), 1e-9)
}
