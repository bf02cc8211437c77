// Package market holds the domain model shared by the cache, pipeline and
// HTTP layers: payload/quote shapes, raw frames, symbol and parameter
// normalization, the error taxonomy and the delta projector.
package market

// Candle is one OHLCV bar keyed by unix seconds.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// LinePoint is one indicator sample.
type LinePoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// VolumeBar carries the histogram value plus the up/down color hint the
// chart renders directly.
type VolumeBar struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// IndicatorSet is the fixed set of overlay series computed per payload.
type IndicatorSet struct {
	SMA20  []LinePoint `json:"sma20"`
	SMA50  []LinePoint `json:"sma50"`
	SMA200 []LinePoint `json:"sma200"`
	EMA12  []LinePoint `json:"ema12"`
	EMA26  []LinePoint `json:"ema26"`
	RSI14  []LinePoint `json:"rsi14"`
	VWAP   []LinePoint `json:"vwap"`
}

// byName exposes the series for generic filtering and signatures.
func (s IndicatorSet) byName() map[string][]LinePoint {
	return map[string][]LinePoint{
		"sma20":  s.SMA20,
		"sma50":  s.SMA50,
		"sma200": s.SMA200,
		"ema12":  s.EMA12,
		"ema26":  s.EMA26,
		"rsi14":  s.RSI14,
		"vwap":   s.VWAP,
	}
}

// Meta is the per-symbol decoration attached to payloads and quotes.
// A failed metadata lookup yields the zero value; fields stay blank.
type Meta struct {
	Exchange  string   `json:"exchange"`
	QuoteType string   `json:"quote_type"`
	Name      string   `json:"name"`
	Currency  string   `json:"currency"`
	PrevClose *float64 `json:"prev_close"`
	Is247     bool     `json:"is_24_7"`
}

// Payload is the full chart document served by /api/data and cached per
// (symbol, timeframe, ext). Ext records the effective pre/post bit, which
// is masked off for daily and weekly frames.
type Payload struct {
	Symbol     string       `json:"symbol"`
	Timeframe  string       `json:"timeframe"`
	Ext        bool         `json:"ext"`
	Candles    []Candle     `json:"candles"`
	ExtCandles []Candle     `json:"ext_candles"`
	Volume     []VolumeBar  `json:"volume"`
	Indicators IndicatorSet `json:"indicators"`
	Meta       Meta         `json:"meta"`
	BuiltAt    int64        `json:"built_at"`
	LatestTime int64        `json:"latest_time"`
}

// Delta is a payload projected to bars at or after a client watermark.
type Delta struct {
	Symbol     string       `json:"symbol"`
	Timeframe  string       `json:"timeframe"`
	Ext        bool         `json:"ext"`
	Delta      bool         `json:"delta"`
	Since      int64        `json:"since"`
	LatestTime int64        `json:"latest_time"`
	Candles    []Candle     `json:"candles"`
	ExtCandles []Candle     `json:"ext_candles"`
	Volume     []VolumeBar  `json:"volume"`
	Indicators IndicatorSet `json:"indicators"`
}

// Quote is one symbol's snapshot inside a /api/quotes response.
type Quote struct {
	Price        float64   `json:"price"`
	Change       float64   `json:"change"`
	ChangePct    float64   `json:"change_pct"`
	Spark        []float64 `json:"spark"`
	Exchange     string    `json:"exchange"`
	Name         string    `json:"name"`
	Currency     string    `json:"currency"`
	Session      string    `json:"session"`
	LastTS       *int64    `json:"last_ts"`
	RTHPrice     float64   `json:"rth_price"`
	ExtPrice     *float64  `json:"ext_price"`
	ExtChange    *float64  `json:"ext_change"`
	ExtChangePct *float64  `json:"ext_change_pct"`
	RTHChange    float64   `json:"rth_change"`
	RTHChangePct float64   `json:"rth_change_pct"`
}

// SearchResult is one row of /api/symbols.
type SearchResult struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Type     string `json:"type"`
}

// NewsItem is one headline of /api/news.
type NewsItem struct {
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
	Source string `json:"source"`
	Time   string `json:"time"`
	URL    string `json:"url"`
}
