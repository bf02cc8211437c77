package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadingview/marketd/internal/config"
	"github.com/fadingview/marketd/internal/market"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().Upstream
	cfg.BaseURL = srv.URL
	cfg.SearchBaseURL = srv.URL
	cfg.TimeoutSeconds = 2
	cfg.RequestsPerSec = 1000
	cfg.Burst = 100
	return New(cfg, clockwork.NewRealClock())
}

const chartBody = `{"chart":{"result":[{"meta":{"exchangeTimezoneName":"America/New_York"},
"timestamp":[300,100,200,200],
"indicators":{"quote":[{
"open":[3.0,1.0,null,2.0],
"high":[3.5,1.5,2.2,2.5],
"low":[2.8,0.9,1.8,1.9],
"close":[3.2,1.2,2.1,2.2],
"volume":[30,null,20,25]}]}}],"error":null}}`

func TestChartParsesSortsAndDedupes(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v8/finance/chart/SPY")
		assert.Equal(t, "5d", r.URL.Query().Get("range"))
		assert.Equal(t, "5m", r.URL.Query().Get("interval"))
		assert.Equal(t, "true", r.URL.Query().Get("includePrePost"))
		fmt.Fprint(w, chartBody)
	}))

	frame, err := client.Chart(context.Background(), "SPY", "5d", "5m", true)
	require.NoError(t, err)
	require.Equal(t, 3, frame.Len())
	assert.Equal(t, "America/New_York", frame.TZ)

	assert.Equal(t, int64(100), frame.Bars[0].Time)
	assert.Equal(t, float64(0), frame.Bars[0].Volume, "null volume coerces to zero")
	assert.Equal(t, int64(200), frame.Bars[1].Time)
	assert.Equal(t, 2.0, frame.Bars[1].Open, "duplicate timestamp keeps the last row")
	assert.Equal(t, int64(300), frame.Bars[2].Time)
}

func TestChartRetriesThenSucceeds(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, chartBody)
	}))

	frame, err := client.Chart(context.Background(), "SPY", "5d", "5m", false)
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Len())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestChartNotFoundIsEmptyFrame(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	frame, err := client.Chart(context.Background(), "NOPE", "5d", "5m", false)
	require.NoError(t, err, "a vendor 404 is no-data, not an outage")
	assert.True(t, frame.Empty())
}

func TestChartExhaustedRetriesSurfaceUpstreamError(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.Chart(context.Background(), "SPY", "5d", "5m", false)
	require.Error(t, err)
	assert.Equal(t, market.KindUpstream, market.KindOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := config.Default().Upstream
	cfg.BaseURL = srv.URL
	cfg.SearchBaseURL = srv.URL
	cfg.TimeoutSeconds = 2
	cfg.Retries = 1
	cfg.RequestsPerSec = 1000
	cfg.Burst = 100
	cfg.BreakerFailures = 2
	client := New(cfg, clockwork.NewRealClock())

	for i := 0; i < 2; i++ {
		_, err := client.Chart(context.Background(), "SPY", "5d", "5m", false)
		require.Error(t, err)
	}
	_, err := client.Chart(context.Background(), "SPY", "5d", "5m", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
}

func TestChartBatchSkipsFailedSymbols(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v8/finance/chart/BAD" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, chartBody)
	}))

	wide := client.ChartBatch(context.Background(), []string{"SPY", "BAD"}, "1d", "1m", true)
	assert.Len(t, wide, 1)
	assert.False(t, wide.Project("SPY").Empty())
	assert.True(t, wide.Project("BAD").Empty(), "missing symbols project to an empty frame")
}

func TestMetadataMapsPriceModule(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v10/finance/quoteSummary/AAPL")
		fmt.Fprint(w, `{"quoteSummary":{"result":[{"price":{
			"exchange":"NMS","exchangeName":"NasdaqGS","quoteType":"EQUITY",
			"shortName":"Apple Inc.","currency":"USD",
			"regularMarketPreviousClose":{"raw":229.87,"fmt":"229.87"}}}],"error":null}}`)
	}))

	meta := client.Metadata(context.Background(), "AAPL")
	assert.Equal(t, "NMS", meta.Exchange)
	assert.Equal(t, "EQUITY", meta.QuoteType)
	assert.Equal(t, "Apple Inc.", meta.Name)
	assert.Equal(t, "USD", meta.Currency)
	require.NotNil(t, meta.PrevClose)
	assert.InDelta(t, 229.87, *meta.PrevClose, 1e-9)
}

func TestMetadataFailureYieldsZeroMeta(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	meta := client.Metadata(context.Background(), "AAPL")
	assert.Equal(t, market.Meta{}, meta)
}

func TestSearchMapsQuotes(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tesla", r.URL.Query().Get("q"))
		assert.Equal(t, "10", r.URL.Query().Get("quotesCount"))
		fmt.Fprint(w, `{"quotes":[
			{"symbol":"TSLA","shortname":"Tesla, Inc.","exchange":"NMS","quoteType":"EQUITY"},
			{"symbol":"TL0.DE","longname":"Tesla, Inc.","exchange":"GER","quoteType":"EQUITY"}]}`)
	}))

	results, err := client.Search(context.Background(), "tesla")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "TSLA", results[0].Symbol)
	assert.Equal(t, "Tesla, Inc.", results[0].Name)
	assert.Equal(t, "Tesla, Inc.", results[1].Name, "longname fills in when shortname is empty")
}

func TestSearchFailureIsUpstreamKind(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.Search(context.Background(), "tesla")
	require.Error(t, err)
	assert.Equal(t, market.KindUpstream, market.KindOf(err))
}
