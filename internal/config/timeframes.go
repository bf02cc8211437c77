package config

import "time"

// Contract constants shared by the cache, builder, refresher and streams.
// These are part of the API behavior, not deployment tuning, so they live
// in code rather than YAML.
const (
	DataTTLDefault  = 60 * time.Second
	QuoteTTL        = 15 * time.Second
	SearchTTL       = 300 * time.Second
	MetaTTL         = 3600 * time.Second
	FailureCooldown = 60 * time.Second
	HotWindow       = 600 * time.Second
	RefreshTick     = 5 * time.Second
	BuildWait       = 12 * time.Second
	StreamKeepAlive = 30 * time.Second
	QuoteStreamTick = QuoteTTL

	MaxQuoteSymbols   = 50
	MaxPrewarmSymbols = 20
)

var dataTTLByTF = map[string]time.Duration{
	"1m":  20 * time.Second,
	"5m":  30 * time.Second,
	"15m": 60 * time.Second,
	"30m": 90 * time.Second,
	"1h":  120 * time.Second,
	"4h":  300 * time.Second,
	"1d":  900 * time.Second,
	"1w":  3600 * time.Second,
}

// intervalSpec maps a timeframe to the upstream range/interval pair.
type intervalSpec struct {
	Period   string
	Interval string
}

var intervalsByTF = map[string]intervalSpec{
	"1m":  {"1d", "1m"},
	"5m":  {"5d", "5m"},
	"15m": {"5d", "15m"},
	"30m": {"60d", "30m"},
	"1h":  {"1mo", "1h"},
	"4h":  {"60d", "1h"},
	"1d":  {"1y", "1d"},
	"1w":  {"5y", "1wk"},
}

var fallbackPeriodByTF = map[string]string{
	"1m":  "7d",
	"5m":  "30d",
	"15m": "60d",
	"30m": "1y",
	"1h":  "6mo",
	"4h":  "1y",
}

var minBarsByTF = map[string]int{
	"1m":  200,
	"5m":  200,
	"15m": 200,
	"30m": 160,
	"1h":  120,
	"4h":  80,
}

var streamTickByTF = map[string]time.Duration{
	"1m":  3 * time.Second,
	"5m":  5 * time.Second,
	"15m": 8 * time.Second,
	"30m": 12 * time.Second,
	"1h":  15 * time.Second,
	"4h":  30 * time.Second,
	"1d":  30 * time.Second,
	"1w":  45 * time.Second,
}

// DataTTL returns the payload freshness window for a timeframe; unknown
// timeframes use the 60s default.
func DataTTL(tf string) time.Duration {
	if ttl, ok := dataTTLByTF[tf]; ok {
		return ttl
	}
	return DataTTLDefault
}

// PeriodInterval returns the upstream range and bar interval for a
// timeframe. Unknown timeframes chart like 5m.
func PeriodInterval(tf string) (period, interval string) {
	spec, ok := intervalsByTF[tf]
	if !ok {
		spec = intervalSpec{"5d", "5m"}
	}
	return spec.Period, spec.Interval
}

// FallbackPeriod returns the wider range tried when the first download
// comes back short, and whether one exists for the timeframe.
func FallbackPeriod(tf string) (string, bool) {
	p, ok := fallbackPeriodByTF[tf]
	return p, ok
}

// MinBars is the row count under which the fallback period is tried.
func MinBars(tf string) int { return minBarsByTF[tf] }

// StreamTick is the SSE poll interval for a timeframe; unknown timeframes
// poll every 15s.
func StreamTick(tf string) time.Duration {
	if tick, ok := streamTickByTF[tf]; ok {
		return tick
	}
	return 15 * time.Second
}
