// Package pipeline turns raw upstream frames into the canonical chart
// payload: outlier suppression, 4h resampling, indicator computation,
// session splitting and quote derivation. Everything here is pure; the
// service layer owns downloads, caching and retries.
package pipeline

import (
	"math"

	"github.com/fadingview/marketd/internal/market"
)

// BuildSpec carries everything Build needs besides the frame itself.
type BuildSpec struct {
	Symbol    string
	Timeframe string
	// Ext is the requested pre/post flag; Build masks it off for daily
	// and weekly frames and records the effective bit on the payload.
	Ext     bool
	Is247   bool
	Meta    market.Meta
	BuiltAt int64
}

// Build assembles the payload for one (symbol, timeframe, ext) key.
// An empty frame is a not-found, never a zero payload.
func Build(frame market.Frame, spec BuildSpec) (*market.Payload, error) {
	if frame.Empty() {
		return nil, market.NotFoundf("no data for %s", spec.Symbol)
	}
	effExt := market.EffectiveExt(spec.Timeframe, spec.Ext)

	// Indicator math assumes complete rows: one NaN close would carry
	// through every running sum. Rows missing any price are unusable.
	bars := completeBars(frame.Bars)
	bars = filterIntradayOutliers(bars, spec.Timeframe, spec.Is247)
	if spec.Timeframe == "4h" {
		bars = resample4h(bars, frame.TZ)
	}
	if len(bars) == 0 {
		return nil, market.NotFoundf("no data for %s", spec.Symbol)
	}

	// Indicators run over the whole cleaned frame so extended-hours
	// trading still feeds the averages the chart overlays on RTH bars.
	indicators := computeIndicators(bars)
	volume := volumeSeries(bars)

	main := bars
	var extBars []market.Bar
	if effExt && !spec.Is247 && spec.Timeframe != "4h" {
		rth, ext := splitSessions(bars)
		main = rth
		reference := rth
		if len(rth) == 0 {
			// A frame with no regular-hours rows still screens its ext
			// bars against the whole frame's range distribution.
			reference = bars
		}
		extBars = filterExtOutliers(ext, reference)
	}

	payload := &market.Payload{
		Symbol:     spec.Symbol,
		Timeframe:  spec.Timeframe,
		Ext:        effExt && !spec.Is247,
		Candles:    candleSeries(main),
		ExtCandles: candleSeries(extBars),
		Volume:     volume,
		Indicators: indicators,
		Meta:       spec.Meta,
		BuiltAt:    spec.BuiltAt,
	}
	payload.LatestTime = latestTime(payload)
	return payload, nil
}

// completeBars keeps only rows carrying all four prices, the same
// dropna the raw frame gets before any series math.
func completeBars(bars []market.Bar) []market.Bar {
	out := make([]market.Bar, 0, len(bars))
	for _, b := range bars {
		if b.HasOHLC() {
			out = append(out, b)
		}
	}
	return out
}

// candleSeries maps bars to wire candles. Always returns a non-nil
// slice so the JSON encodes [] rather than null.
func candleSeries(bars []market.Bar) []market.Candle {
	out := []market.Candle{}
	for _, b := range bars {
		if !b.HasOHLC() {
			continue
		}
		vol := b.Volume
		if math.IsNaN(vol) {
			vol = 0
		}
		out = append(out, market.Candle{
			Time:   b.Time,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: vol,
		})
	}
	return out
}

func latestTime(p *market.Payload) int64 {
	var latest int64
	if n := len(p.Candles); n > 0 && p.Candles[n-1].Time > latest {
		latest = p.Candles[n-1].Time
	}
	if n := len(p.ExtCandles); n > 0 && p.ExtCandles[n-1].Time > latest {
		latest = p.ExtCandles[n-1].Time
	}
	if n := len(p.Volume); n > 0 && p.Volume[n-1].Time > latest {
		latest = p.Volume[n-1].Time
	}
	return latest
}
