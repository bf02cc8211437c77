package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadingview/marketd/internal/market"
)

func TestParseSymbolList(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, parseSymbolList("aapl, msft", 10))
	assert.Equal(t, []string{"AAPL"}, parseSymbolList("AAPL,aapl,AAPL", 10), "dedupe keeps first")
	assert.Equal(t, []string{"AAPL", "MSFT"}, parseSymbolList("AAPL,MSFT,NVDA", 2), "capped")
	assert.Empty(t, parseSymbolList(",,  ,", 10))
}

func TestQuotesEndpointEmptyList(t *testing.T) {
	ts := newTestServer(t, &fakeUpstream{}, fakeNews{}, nil)

	rec := doGET(ts, "/api/quotes")
	require.Equal(t, http.StatusOK, rec.Code)

	var body quotesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotNil(t, body.Quotes)
	assert.Empty(t, body.Quotes)
	assert.False(t, body.Stale)
}

func TestQuotesEndpoint(t *testing.T) {
	up := &fakeUpstream{batchFn: func(symbols []string, _ bool) market.WideFrame {
		assert.Equal(t, []string{"AAPL", "MSFT"}, symbols, "sorted before the batch call")
		wide := market.WideFrame{}
		base := time.Date(2024, 1, 16, 17, 0, 0, 0, time.UTC).Unix()
		for _, s := range symbols {
			wide[s] = market.Frame{Bars: []market.Bar{
				{Time: base, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10},
				{Time: base + 60, Open: 100, High: 102, Low: 100, Close: 101, Volume: 10},
			}}
		}
		return wide
	}}
	ts := newTestServer(t, up, fakeNews{}, nil)

	rec := doGET(ts, "/api/quotes?symbols=msft,aapl")
	require.Equal(t, http.StatusOK, rec.Code)

	var body quotesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Quotes, 2)
	assert.InDelta(t, 101, body.Quotes["AAPL"].Price, 1e-9)
	assert.False(t, body.Stale)
}

func TestSymbolsEndpoint(t *testing.T) {
	up := &fakeUpstream{searchFn: func(query string) ([]market.SearchResult, error) {
		return []market.SearchResult{{Symbol: "AAPL", Name: "Apple Inc."}}, nil
	}}
	ts := newTestServer(t, up, fakeNews{}, nil)

	rec := doGET(ts, "/api/symbols?query=apple")
	require.Equal(t, http.StatusOK, rec.Code)

	var body searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "apple", body.Query)
	require.Len(t, body.Results, 1)
	assert.Empty(t, body.Error)
}

func TestSymbolsEndpointDegradesOnFailure(t *testing.T) {
	up := &fakeUpstream{searchFn: func(string) ([]market.SearchResult, error) {
		return nil, errors.New("boom")
	}}
	ts := newTestServer(t, up, fakeNews{}, nil)

	rec := doGET(ts, "/api/symbols?query=apple")
	require.Equal(t, http.StatusOK, rec.Code, "search failures are soft")

	var body searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "search_failed", body.Error)
	assert.Empty(t, body.Results)
}

func TestSymbolsEndpointEmptyQuery(t *testing.T) {
	ts := newTestServer(t, &fakeUpstream{}, fakeNews{}, nil)

	rec := doGET(ts, "/api/symbols")
	require.Equal(t, http.StatusOK, rec.Code)

	var body searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotNil(t, body.Results)
	assert.Empty(t, body.Results)
}

func TestNewsEndpoint(t *testing.T) {
	news := fakeNews{items: []market.NewsItem{
		{Title: "Apple ships something", Source: "Newswire"},
	}}
	ts := newTestServer(t, &fakeUpstream{}, news, nil)

	rec := doGET(ts, "/api/news?symbol=aapl&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var body newsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "AAPL", body.Symbol)
	require.Len(t, body.Items, 1)
	assert.NotEmpty(t, body.LastUpdated)
}

func TestNewsEndpointDegradesToEmpty(t *testing.T) {
	ts := newTestServer(t, &fakeUpstream{}, fakeNews{err: errors.New("feed down")}, nil)

	rec := doGET(ts, "/api/news?symbol=AAPL")
	require.Equal(t, http.StatusOK, rec.Code)

	var body newsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotNil(t, body.Items)
	assert.Empty(t, body.Items)
}

func TestNewsSymbolCharset(t *testing.T) {
	assert.Equal(t, "BRK.B", newsSymbol(" brk.b "))
	assert.Equal(t, "BTC-USD", newsSymbol("btc-usd"))
	assert.Equal(t, "AAPL", newsSymbol("aa!pl"))
	assert.Equal(t, "", newsSymbol("=^/"))
}

func TestPrewarmEndpoint(t *testing.T) {
	up := &fakeUpstream{chartFn: func(symbol, _, _ string, _ bool) (market.Frame, error) {
		if symbol == "BAD" {
			return market.Frame{}, market.Upstreamf("vendor down")
		}
		return chartFrame(250), nil
	}}
	ts := newTestServer(t, up, fakeNews{}, nil)

	rec := doGET(ts, "/api/prewarm?symbols=aapl,bad")
	require.Equal(t, http.StatusOK, rec.Code)

	var body prewarmResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Warmed)
	assert.Equal(t, []string{"AAPL", "BAD"}, body.Symbols)
	assert.Equal(t, []string{"BAD"}, body.Failed)
	assert.Equal(t, "1h", body.TF, "tf defaults to 1h")
	assert.False(t, body.Ext)
}

func TestPrewarmEndpointEmptyList(t *testing.T) {
	ts := newTestServer(t, &fakeUpstream{}, fakeNews{}, nil)

	rec := doGET(ts, "/api/prewarm")
	require.Equal(t, http.StatusOK, rec.Code)

	var body prewarmResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Warmed)
	assert.NotNil(t, body.Symbols)
	assert.NotNil(t, body.Failed)
}
