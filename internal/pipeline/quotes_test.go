package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadingview/marketd/internal/market"
)

func minuteFrame(start time.Time, closes []float64) market.Frame {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Time:   start.Add(time.Duration(i) * time.Minute).Unix(),
			Open:   c,
			High:   c + 0.1,
			Low:    c - 0.1,
			Close:  c,
			Volume: 10,
		}
	}
	return market.Frame{Bars: bars}
}

func floatPtr(v float64) *float64 { return &v }

func TestDeriveQuotesOmitsEmptySymbols(t *testing.T) {
	wide := market.WideFrame{
		"AAPL": minuteFrame(time.Date(2024, 1, 16, 17, 0, 0, 0, time.UTC), []float64{100, 101}),
		"ZZZZ": {},
	}
	quotes := DeriveQuotes(wide, nil, false)
	require.Len(t, quotes, 1)
	_, ok := quotes["AAPL"]
	assert.True(t, ok)
}

func TestDeriveQuoteUsesPrevCloseWithoutSessionData(t *testing.T) {
	// Without the prepost flag no session mask runs, so the displayed
	// price falls back to the exchange-provided previous close.
	start := time.Date(2024, 1, 16, 17, 0, 0, 0, time.UTC)
	wide := market.WideFrame{"AAPL": minuteFrame(start, []float64{100, 102})}
	metas := map[string]market.Meta{"AAPL": {Exchange: "NMS", Name: "Apple", PrevClose: floatPtr(99)}}

	quotes := DeriveQuotes(wide, metas, false)
	q := quotes["AAPL"]

	assert.Equal(t, "rth", q.Session)
	assert.InDelta(t, 99, q.Price, 1e-9)
	assert.Equal(t, "NMS", q.Exchange)
	assert.Equal(t, "Apple", q.Name)
	require.NotNil(t, q.LastTS)
	assert.Equal(t, start.Add(time.Minute).Unix(), *q.LastTS)
	assert.Nil(t, q.ExtPrice)
}

func TestDeriveQuoteChangeBaseSkipsMatchingPrevClose(t *testing.T) {
	// prev_close equals the display price, so the change base falls back
	// to the previous bar instead of reporting a flat zero.
	start := time.Date(2024, 1, 16, 17, 0, 0, 0, time.UTC)
	wide := market.WideFrame{"AAPL": minuteFrame(start, []float64{100, 102})}
	metas := map[string]market.Meta{"AAPL": {PrevClose: floatPtr(99)}}

	quotes := DeriveQuotes(wide, metas, false)
	q := quotes["AAPL"]
	assert.InDelta(t, 99, q.Price, 1e-9)
	assert.InDelta(t, -1, q.Change, 1e-9, "base is the previous bar close of 100")
	assert.InDelta(t, -1, q.ChangePct, 1e-9)
}

func TestDeriveQuoteFallsBackToPreviousBar(t *testing.T) {
	start := time.Date(2024, 1, 16, 17, 0, 0, 0, time.UTC)
	wide := market.WideFrame{"AAPL": minuteFrame(start, []float64{100, 102})}

	quotes := DeriveQuotes(wide, nil, false)
	q := quotes["AAPL"]
	assert.InDelta(t, 2, q.Change, 1e-9)
	assert.InDelta(t, 2, q.ChangePct, 1e-9)
}

func TestDeriveQuotePostMarket(t *testing.T) {
	day := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	et := func(h, m int) time.Time {
		return day.Add(time.Duration(h+5)*time.Hour + time.Duration(m)*time.Minute)
	}
	bars := []market.Bar{
		{Time: et(15, 59).Unix(), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		{Time: et(16, 0).Unix(), Open: 100, High: 101, Low: 100, Close: 101, Volume: 1},
		{Time: et(17, 30).Unix(), Open: 101, High: 103, Low: 101, Close: 103, Volume: 1},
	}
	wide := market.WideFrame{"AAPL": {Bars: bars}}

	quotes := DeriveQuotes(wide, nil, true)
	q := quotes["AAPL"]

	assert.Equal(t, "post", q.Session)
	assert.InDelta(t, 101, q.RTHPrice, 1e-9, "last RTH close, not the ext bar")
	require.NotNil(t, q.ExtPrice)
	assert.InDelta(t, 103, *q.ExtPrice, 1e-9)
	assert.InDelta(t, 103, q.Price, 1e-9, "display follows the ext bar")
	require.NotNil(t, q.ExtChange)
	assert.InDelta(t, 2, *q.ExtChange, 1e-9)
}

func TestDeriveQuoteSessionFollowsLatestBar(t *testing.T) {
	day := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	et := func(h, m int) time.Time {
		return day.Add(time.Duration(h+5)*time.Hour + time.Duration(m)*time.Minute)
	}
	// An early pre-market bar followed by an RTH bar: session is rth.
	bars := []market.Bar{
		{Time: et(8, 0).Unix(), Open: 99, High: 99, Low: 99, Close: 99, Volume: 1},
		{Time: et(10, 0).Unix(), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
	}
	wide := market.WideFrame{"AAPL": {Bars: bars}}

	quotes := DeriveQuotes(wide, nil, true)
	q := quotes["AAPL"]
	assert.Equal(t, "rth", q.Session)
	assert.Nil(t, q.ExtPrice)
	assert.InDelta(t, 100, q.Price, 1e-9)
}

func TestDeriveQuoteSparkCap(t *testing.T) {
	closes := make([]float64, 45)
	for i := range closes {
		closes[i] = float64(i)
	}
	wide := market.WideFrame{"AAPL": minuteFrame(time.Date(2024, 1, 16, 15, 0, 0, 0, time.UTC), closes)}

	quotes := DeriveQuotes(wide, nil, false)
	q := quotes["AAPL"]
	require.Len(t, q.Spark, 30)
	assert.Equal(t, float64(15), q.Spark[0])
	assert.Equal(t, float64(44), q.Spark[29])
}
