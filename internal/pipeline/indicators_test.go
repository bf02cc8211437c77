package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadingview/marketd/internal/market"
)

func barsFromCloses(closes []float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Time:   int64(100 + i*60),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 10,
		}
	}
	return bars
}

func TestSMAWarmupAndValue(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	bars := barsFromCloses(closes)

	pts := sma(bars, 20)
	require.Len(t, pts, 6)
	assert.Equal(t, bars[19].Time, pts[0].Time)
	// mean(1..20) = 10.5
	assert.InDelta(t, 10.5, pts[0].Value, 1e-9)
	// mean(6..25) = 15.5
	assert.InDelta(t, 15.5, pts[5].Value, 1e-9)
}

func TestSMATooFewBars(t *testing.T) {
	pts := sma(barsFromCloses([]float64{1, 2, 3}), 20)
	assert.Empty(t, pts)
}

func TestEMASeedsWithFirstClose(t *testing.T) {
	bars := barsFromCloses([]float64{10, 20, 30})
	pts := ema(bars, 12)
	require.Len(t, pts, 3)
	assert.InDelta(t, 10, pts[0].Value, 1e-9)

	alpha := 2.0 / 13.0
	want := alpha*20 + (1-alpha)*10
	assert.InDelta(t, want, pts[1].Value, 1e-9)
}

func TestRSIExtremes(t *testing.T) {
	up := make([]float64, 20)
	down := make([]float64, 20)
	flat := make([]float64, 20)
	for i := range up {
		up[i] = float64(100 + i)
		down[i] = float64(100 - i)
		flat[i] = 100
	}

	upPts := rsi(barsFromCloses(up), 14)
	require.NotEmpty(t, upPts)
	for _, p := range upPts {
		assert.InDelta(t, 100, p.Value, 1e-9)
	}

	downPts := rsi(barsFromCloses(down), 14)
	require.NotEmpty(t, downPts)
	for _, p := range downPts {
		assert.InDelta(t, 0, p.Value, 1e-9)
	}

	assert.Empty(t, rsi(barsFromCloses(flat), 14), "flat series emits no RSI points")
}

func TestVWAPSkipsZeroVolume(t *testing.T) {
	bars := []market.Bar{
		{Time: 1, High: 12, Low: 8, Close: 10, Volume: 100},
		{Time: 2, High: 22, Low: 18, Close: 20, Volume: 0},
		{Time: 3, High: 32, Low: 28, Close: 30, Volume: 100},
	}
	pts := vwap(bars)
	require.Len(t, pts, 2)
	assert.Equal(t, int64(1), pts[0].Time)
	assert.InDelta(t, 10, pts[0].Value, 1e-9)
	// (10*100 + 30*100) / 200 = 20
	assert.Equal(t, int64(3), pts[1].Time)
	assert.InDelta(t, 20, pts[1].Value, 1e-9)
}

func TestVolumeSeriesColors(t *testing.T) {
	bars := []market.Bar{
		{Time: 1, Open: 10, High: 11, Low: 9, Close: 11, Volume: 5},
		{Time: 2, Open: 11, High: 12, Low: 10, Close: 10, Volume: 7},
		{Time: 3, Open: 10, High: 11, Low: 9, Close: 10, Volume: 9},
	}
	vols := volumeSeries(bars)
	require.Len(t, vols, 3)
	assert.Equal(t, volumeUpColor, vols[0].Color)
	assert.Equal(t, volumeDownColor, vols[1].Color)
	assert.Equal(t, volumeUpColor, vols[2].Color, "flat bar counts as up")
}
