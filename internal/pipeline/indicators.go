package pipeline

import (
	"math"

	"github.com/fadingview/marketd/internal/market"
)

const (
	volumeUpColor   = "#00d084"
	volumeDownColor = "#ff5a5f"
)

// computeIndicators derives the overlay series from the cleaned, pre-split
// frame. Warm-up bars with no defined value are omitted rather than
// zero-padded, so every series is a subset of the candle time grid.
func computeIndicators(bars []market.Bar) market.IndicatorSet {
	return market.IndicatorSet{
		SMA20:  sma(bars, 20),
		SMA50:  sma(bars, 50),
		SMA200: sma(bars, 200),
		EMA12:  ema(bars, 12),
		EMA26:  ema(bars, 26),
		RSI14:  rsi(bars, 14),
		VWAP:   vwap(bars),
	}
}

// sma emits the simple moving average starting at the first full window.
func sma(bars []market.Bar, window int) []market.LinePoint {
	out := []market.LinePoint{}
	if len(bars) < window {
		return out
	}
	var sum float64
	for i, b := range bars {
		sum += b.Close
		if i >= window {
			sum -= bars[i-window].Close
		}
		if i >= window-1 {
			out = append(out, market.LinePoint{Time: b.Time, Value: sum / float64(window)})
		}
	}
	return out
}

// ema uses the span smoothing alpha = 2/(span+1), seeded with the first
// close, and emits a value for every bar.
func ema(bars []market.Bar, span int) []market.LinePoint {
	out := []market.LinePoint{}
	if len(bars) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	value := bars[0].Close
	out = append(out, market.LinePoint{Time: bars[0].Time, Value: value})
	for _, b := range bars[1:] {
		value = alpha*b.Close + (1-alpha)*value
		out = append(out, market.LinePoint{Time: b.Time, Value: value})
	}
	return out
}

// rsi is the Wilder oscillator with simple rolling means over the gains
// and losses. A bar where both averages are zero (a flat window) emits no
// point; an all-gain window pins at 100, an all-loss window at 0.
func rsi(bars []market.Bar, window int) []market.LinePoint {
	out := []market.LinePoint{}
	if len(bars) <= window {
		return out
	}
	gains := make([]float64, len(bars))
	losses := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		diff := bars[i].Close - bars[i-1].Close
		if diff > 0 {
			gains[i] = diff
		} else {
			losses[i] = -diff
		}
	}
	var gainSum, lossSum float64
	for i := 1; i < len(bars); i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i > window {
			gainSum -= gains[i-window]
			lossSum -= losses[i-window]
		}
		if i < window {
			continue
		}
		avgGain := gainSum / float64(window)
		avgLoss := lossSum / float64(window)
		switch {
		case avgGain == 0 && avgLoss == 0:
			continue
		case avgLoss == 0:
			out = append(out, market.LinePoint{Time: bars[i].Time, Value: 100})
		case avgGain == 0:
			out = append(out, market.LinePoint{Time: bars[i].Time, Value: 0})
		default:
			rs := avgGain / avgLoss
			out = append(out, market.LinePoint{Time: bars[i].Time, Value: 100 - 100/(1+rs)})
		}
	}
	return out
}

// vwap accumulates typical price (H+L+C)/3 weighted by volume over the
// whole frame. Zero-volume bars contribute nothing and emit no point.
func vwap(bars []market.Bar) []market.LinePoint {
	out := []market.LinePoint{}
	var pvSum, volSum float64
	for _, b := range bars {
		vol := b.Volume
		if math.IsNaN(vol) || vol <= 0 {
			continue
		}
		typical := (b.High + b.Low + b.Close) / 3
		if math.IsNaN(typical) {
			continue
		}
		pvSum += typical * vol
		volSum += vol
		out = append(out, market.LinePoint{Time: b.Time, Value: pvSum / volSum})
	}
	return out
}

// volumeSeries maps bars to histogram entries with the up/down color the
// chart renders directly. Bars missing open or close are skipped.
func volumeSeries(bars []market.Bar) []market.VolumeBar {
	out := []market.VolumeBar{}
	for _, b := range bars {
		if math.IsNaN(b.Open) || math.IsNaN(b.Close) || math.IsNaN(b.Volume) {
			continue
		}
		color := volumeUpColor
		if b.Close < b.Open {
			color = volumeDownColor
		}
		out = append(out, market.VolumeBar{Time: b.Time, Value: b.Volume, Color: color})
	}
	return out
}
