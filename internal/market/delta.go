package market

import "encoding/json"

// ProjectDelta filters every series of p to entries with time >= since and
// stamps the result. since <= 0 returns the whole payload in delta shape.
// LatestTime is the newest bar time across the filtered candle, ext and
// volume series, 0 when nothing survives the filter. Projection is pure:
// projecting twice with the same arguments yields identical deltas.
func ProjectDelta(p *Payload, since int64) Delta {
	candles := filterCandles(p.Candles, since)
	ext := filterCandles(p.ExtCandles, since)
	volume := filterVolume(p.Volume, since)

	var latest int64
	if n := len(candles); n > 0 && candles[n-1].Time > latest {
		latest = candles[n-1].Time
	}
	if n := len(ext); n > 0 && ext[n-1].Time > latest {
		latest = ext[n-1].Time
	}
	if n := len(volume); n > 0 && volume[n-1].Time > latest {
		latest = volume[n-1].Time
	}

	return Delta{
		Symbol:     p.Symbol,
		Timeframe:  p.Timeframe,
		Ext:        p.Ext,
		Delta:      true,
		Since:      since,
		LatestTime: latest,
		Candles:    candles,
		ExtCandles: ext,
		Volume:     volume,
		Indicators: IndicatorSet{
			SMA20:  filterPoints(p.Indicators.SMA20, since),
			SMA50:  filterPoints(p.Indicators.SMA50, since),
			SMA200: filterPoints(p.Indicators.SMA200, since),
			EMA12:  filterPoints(p.Indicators.EMA12, since),
			EMA26:  filterPoints(p.Indicators.EMA26, since),
			RSI14:  filterPoints(p.Indicators.RSI14, since),
			VWAP:   filterPoints(p.Indicators.VWAP, since),
		},
	}
}

// HasContent reports whether the delta carries at least one bar or point.
func (d Delta) HasContent() bool {
	if len(d.Candles) > 0 || len(d.ExtCandles) > 0 || len(d.Volume) > 0 {
		return true
	}
	for _, pts := range d.Indicators.byName() {
		if len(pts) > 0 {
			return true
		}
	}
	return false
}

// Signature condenses a delta to its newest entries so streams can
// suppress frames that would repeat the previous one. encoding/json sorts
// map keys, which keeps the string deterministic.
func (d Delta) Signature() string {
	indLast := make(map[string][]LinePoint, 7)
	for name, pts := range d.Indicators.byName() {
		indLast[name] = tailPoints(pts)
	}
	compact := map[string]any{
		"latest_time":  d.LatestTime,
		"candles_last": tailCandles(d.Candles),
		"ext_last":     tailCandles(d.ExtCandles),
		"vol_last":     tailVolume(d.Volume),
		"ind_last":     indLast,
	}
	raw, err := json.Marshal(compact)
	if err != nil {
		return ""
	}
	return string(raw)
}

func filterCandles(items []Candle, since int64) []Candle {
	if since <= 0 {
		if items == nil {
			return []Candle{}
		}
		return items
	}
	out := []Candle{}
	for _, c := range items {
		if c.Time >= since {
			out = append(out, c)
		}
	}
	return out
}

func filterVolume(items []VolumeBar, since int64) []VolumeBar {
	if since <= 0 {
		if items == nil {
			return []VolumeBar{}
		}
		return items
	}
	out := []VolumeBar{}
	for _, v := range items {
		if v.Time >= since {
			out = append(out, v)
		}
	}
	return out
}

func filterPoints(items []LinePoint, since int64) []LinePoint {
	if since <= 0 {
		if items == nil {
			return []LinePoint{}
		}
		return items
	}
	out := []LinePoint{}
	for _, p := range items {
		if p.Time >= since {
			out = append(out, p)
		}
	}
	return out
}

func tailCandles(s []Candle) []Candle {
	if len(s) == 0 {
		return []Candle{}
	}
	return s[len(s)-1:]
}

func tailVolume(s []VolumeBar) []VolumeBar {
	if len(s) == 0 {
		return []VolumeBar{}
	}
	return s[len(s)-1:]
}

func tailPoints(s []LinePoint) []LinePoint {
	if len(s) == 0 {
		return []LinePoint{}
	}
	return s[len(s)-1:]
}
