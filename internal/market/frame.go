package market

import "math"

// Bar is a raw upstream row. Missing fields are NaN; the client never
// emits a bar whose four prices are all missing.
type Bar struct {
	Time   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// HasOHLC reports whether every price field is present.
func (b Bar) HasOHLC() bool {
	return !math.IsNaN(b.Open) && !math.IsNaN(b.High) && !math.IsNaN(b.Low) && !math.IsNaN(b.Close)
}

// Frame is a single symbol's raw series, ascending by time. TZ is the
// exchange timezone name reported by the upstream, used to align 4h
// resample buckets; empty means UTC.
type Frame struct {
	Bars []Bar
	TZ   string
}

func (f Frame) Empty() bool { return len(f.Bars) == 0 }

func (f Frame) Len() int { return len(f.Bars) }

// WideFrame is a multi-symbol download result. Symbols that failed or
// returned nothing are absent.
type WideFrame map[string]Frame

// Project returns the named symbol's frame; missing symbols project to an
// empty frame rather than an error.
func (w WideFrame) Project(symbol string) Frame {
	if f, ok := w[symbol]; ok {
		return f
	}
	return Frame{}
}
