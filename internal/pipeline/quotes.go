package pipeline

import (
	"math"

	"github.com/fadingview/marketd/internal/market"
)

const sparkLen = 30

// DeriveQuotes maps a minute-bar batch download to lightweight quotes.
// Symbols with no usable close are omitted. metas may be missing entries;
// a zero Meta only blanks the cosmetic fields.
func DeriveQuotes(wide market.WideFrame, metas map[string]market.Meta, ext bool) map[string]market.Quote {
	quotes := make(map[string]market.Quote, len(wide))
	for symbol := range wide {
		q, ok := deriveQuote(wide.Project(symbol), metas[symbol], ext)
		if ok {
			quotes[symbol] = q
		}
	}
	return quotes
}

func deriveQuote(frame market.Frame, meta market.Meta, ext bool) (market.Quote, bool) {
	type closeAt struct {
		time  int64
		value float64
	}
	closes := make([]closeAt, 0, frame.Len())
	for _, b := range frame.Bars {
		if !math.IsNaN(b.Close) {
			closes = append(closes, closeAt{time: b.Time, value: b.Close})
		}
	}
	if len(closes) == 0 {
		return market.Quote{}, false
	}

	last := closes[len(closes)-1]
	lastTS := last.time

	spark := make([]float64, 0, sparkLen)
	for _, c := range closes {
		spark = append(spark, c.value)
	}
	if len(spark) > sparkLen {
		spark = spark[len(spark)-sparkLen:]
	}

	session := "rth"
	var rthLast, extLast *float64
	if ext {
		for i := range closes {
			if SessionAt(closes[i].time) == "rth" {
				rthLast = &closes[i].value
			}
		}
		// Session follows the latest candle, not an earlier ext candle.
		session = SessionAt(last.time)
		if session != "rth" {
			extLast = &last.value
		}
	}

	rthPrice := last.value
	switch {
	case rthLast != nil:
		rthPrice = *rthLast
	case meta.PrevClose != nil:
		rthPrice = *meta.PrevClose
	}

	display := rthPrice
	if ext && extLast != nil {
		display = *extLast
	}

	var extChange, extChangePct *float64
	if extLast != nil {
		ec := *extLast - rthPrice
		extChange = &ec
		var ecp float64
		if rthPrice != 0 {
			ecp = ec / rthPrice * 100
		}
		extChangePct = &ecp
	}

	// Prefer the exchange-provided previous close, but only when it
	// actually differs from the display price; otherwise a truncated
	// prev close yields a spurious zero change. Fall back to the
	// previous bar.
	var change, changePct, rthChange, rthChangePct float64
	var base float64
	haveBase := false
	if meta.PrevClose != nil && math.Abs(*meta.PrevClose-display) > 1e-9 {
		base = *meta.PrevClose
		haveBase = true
	} else if len(closes) >= 2 {
		base = closes[len(closes)-2].value
		haveBase = true
	}
	if haveBase {
		change = display - base
		rthChange = rthPrice - base
		if base != 0 {
			changePct = change / base * 100
			rthChangePct = rthChange / base * 100
		}
	}

	return market.Quote{
		Price:        display,
		Change:       change,
		ChangePct:    changePct,
		Spark:        spark,
		Exchange:     meta.Exchange,
		Name:         meta.Name,
		Currency:     meta.Currency,
		Session:      session,
		LastTS:       &lastTS,
		RTHPrice:     rthPrice,
		ExtPrice:     extLast,
		ExtChange:    extChange,
		ExtChangePct: extChangePct,
		RTHChange:    rthChange,
		RTHChangePct: rthChangePct,
	}, true
}
