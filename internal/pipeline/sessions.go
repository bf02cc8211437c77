package pipeline

import (
	"time"

	"github.com/fadingview/marketd/internal/market"
)

// US equity session boundaries. Symbols listed elsewhere still split on
// the US clock; consulting per-exchange calendars is out of scope.
const sessionZone = "America/New_York"

// inRTH reports whether the ET wall clock hh:mm falls inside regular
// trading hours, inclusive of the 09:30 open minute and the 16:00 close
// bar.
func inRTH(hour, min int) bool {
	after := hour > 9 || (hour == 9 && min >= 30)
	before := hour < 16 || (hour == 16 && min == 0)
	return after && before
}

// splitSessions separates bars into regular-hours and extended-hours
// series using the US/Eastern wall clock. When the tz database is not
// available the split is skipped and everything counts as regular. Both
// sides dedup duplicate timestamps keeping the last occurrence, and an
// extended bar whose timestamp also appears in the regular side is
// dropped.
func splitSessions(bars []market.Bar) (rth, ext []market.Bar) {
	loc, err := time.LoadLocation(sessionZone)
	if err != nil {
		return dedupeBars(bars), nil
	}
	for _, b := range bars {
		t := time.Unix(b.Time, 0).In(loc)
		if inRTH(t.Hour(), t.Minute()) {
			rth = append(rth, b)
		} else {
			ext = append(ext, b)
		}
	}
	rth = dedupeBars(rth)
	ext = dedupeBars(ext)

	seen := make(map[int64]struct{}, len(rth))
	for _, b := range rth {
		seen[b.Time] = struct{}{}
	}
	kept := ext[:0]
	for _, b := range ext {
		if _, dup := seen[b.Time]; !dup {
			kept = append(kept, b)
		}
	}
	return rth, kept
}

// SessionAt names the session an instant belongs to on the US/Eastern
// clock: rth inside regular hours, pre before the open, post after the
// close. Zone lookup failures fall back to rth so quotes stay usable.
func SessionAt(ts int64) string {
	loc, err := time.LoadLocation(sessionZone)
	if err != nil {
		return "rth"
	}
	t := time.Unix(ts, 0).In(loc)
	if inRTH(t.Hour(), t.Minute()) {
		return "rth"
	}
	if t.Hour() < 9 || (t.Hour() == 9 && t.Minute() < 30) {
		return "pre"
	}
	return "post"
}

func dedupeBars(bars []market.Bar) []market.Bar {
	if len(bars) == 0 {
		return bars
	}
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Time == b.Time {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
