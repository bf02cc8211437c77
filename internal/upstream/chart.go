package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/fadingview/marketd/internal/market"
)

// Quote snapshots use a tighter budget than chart builds so a slow vendor
// cannot stall the refresher.
const (
	quoteRetries = 2
	quoteTimeout = 6 * time.Second
)

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *vendorError  `json:"error"`
	} `json:"chart"`
}

type vendorError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []quoteColumns `json:"quote"`
	} `json:"indicators"`
}

type quoteColumns struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*float64 `json:"volume"`
}

// Chart downloads one symbol's bars. Unknown symbols and vendor "no data"
// responses come back as an empty frame with a nil error; the caller
// decides whether that is a 404. Transient failures are retried with a
// linear backoff and surface as an upstream error once attempts run out.
func (c *Client) Chart(ctx context.Context, symbol, period, interval string, prepost bool) (market.Frame, error) {
	return c.chart(ctx, symbol, period, interval, prepost, c.retries, c.timeout)
}

// ChartBatch downloads several symbols with bounded concurrency. It is
// best effort: symbols that fail or return nothing are simply absent from
// the result, mirroring how the quote snapshot treats partial failures.
func (c *Client) ChartBatch(ctx context.Context, symbols []string, period, interval string, prepost bool) market.WideFrame {
	wide := make(market.WideFrame, len(symbols))
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, 4)
	)
	for _, symbol := range symbols {
		symbol := symbol
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			frame, err := c.chart(ctx, symbol, period, interval, prepost, quoteRetries, quoteTimeout)
			if err != nil {
				log.Debug().Err(err).Str("symbol", symbol).Msg("batch chart download failed")
				return
			}
			if frame.Empty() {
				return
			}
			mu.Lock()
			wide[symbol] = frame
			mu.Unlock()
		}()
	}
	wg.Wait()
	return wide
}

func (c *Client) chart(ctx context.Context, symbol, period, interval string, prepost bool, retries int, timeout time.Duration) (market.Frame, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.chartWithRetry(ctx, symbol, period, interval, prepost, retries, timeout)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return market.Frame{}, market.Upstreamf("chart circuit open for %s", symbol)
		}
		return market.Frame{}, err
	}
	return result.(market.Frame), nil
}

func (c *Client) chartWithRetry(ctx context.Context, symbol, period, interval string, prepost bool, retries int, timeout time.Duration) (market.Frame, error) {
	if retries < 1 {
		retries = 1
	}
	params := url.Values{}
	params.Set("range", period)
	params.Set("interval", interval)
	params.Set("includePrePost", strconv.FormatBool(prepost))
	params.Set("events", "div,splits")
	rawURL := buildURL(c.baseURL, "/v8/finance/chart/"+url.PathEscape(symbol), params)

	var (
		lastErr   error
		lastFrame market.Frame
	)
	for attempt := 0; attempt < retries; attempt++ {
		var parsed chartResponse
		terminal, err := c.doJSON(ctx, rawURL, timeout, func(resp *http.Response) error {
			return json.NewDecoder(resp.Body).Decode(&parsed)
		})
		switch {
		case err == nil:
			frame := frameFromChart(parsed)
			if !frame.Empty() {
				return frame, nil
			}
			lastFrame = frame
		case terminal:
			var statusErr *httpStatusError
			if errors.As(err, &statusErr) && statusErr.status == http.StatusNotFound {
				// The vendor answers 404 for delisted or unknown symbols;
				// treat it like an empty series, not an outage.
				return market.Frame{}, nil
			}
			if ctx.Err() != nil {
				return market.Frame{}, ctx.Err()
			}
			return market.Frame{}, market.Upstreamf("chart download %s: %w", symbol, err)
		default:
			lastErr = err
			log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt+1).Msg("chart download retry")
		}
		if attempt < retries-1 {
			if err := c.sleep(ctx, time.Duration(attempt+1)*350*time.Millisecond); err != nil {
				return market.Frame{}, err
			}
		}
	}
	if lastErr != nil {
		return market.Frame{}, market.Upstreamf("chart download %s: %w", symbol, lastErr)
	}
	return lastFrame, nil
}

// frameFromChart flattens the vendor document into bars: rows missing all
// four prices are dropped, missing volume counts as zero, and duplicate
// timestamps keep the last row.
func frameFromChart(resp chartResponse) market.Frame {
	if resp.Chart.Error != nil || len(resp.Chart.Result) == 0 {
		return market.Frame{}
	}
	result := resp.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return market.Frame{TZ: result.Meta.ExchangeTimezoneName}
	}
	cols := result.Indicators.Quote[0]

	bars := make([]market.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		bar := market.Bar{
			Time:   ts,
			Open:   deref(cols.Open, i),
			High:   deref(cols.High, i),
			Low:    deref(cols.Low, i),
			Close:  deref(cols.Close, i),
			Volume: derefVolume(cols.Volume, i),
		}
		if math.IsNaN(bar.Open) && math.IsNaN(bar.High) && math.IsNaN(bar.Low) && math.IsNaN(bar.Close) {
			continue
		}
		bars = append(bars, bar)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })

	deduped := bars[:0]
	for _, bar := range bars {
		if n := len(deduped); n > 0 && deduped[n-1].Time == bar.Time {
			deduped[n-1] = bar
			continue
		}
		deduped = append(deduped, bar)
	}
	return market.Frame{Bars: deduped, TZ: result.Meta.ExchangeTimezoneName}
}

func deref(col []*float64, i int) float64 {
	if i >= len(col) || col[i] == nil {
		return math.NaN()
	}
	return *col[i]
}

func derefVolume(col []*float64, i int) float64 {
	if i >= len(col) || col[i] == nil {
		return 0
	}
	return *col[i]
}
