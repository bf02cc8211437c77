// Package upstream talks to the market-data vendor: chart downloads,
// symbol metadata and symbol search. All calls are throttled through one
// shared rate limiter and chart fetches sit behind a circuit breaker.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/fadingview/marketd/internal/config"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Client fetches chart, metadata and search documents. Base URLs are
// injectable so tests can point it at an httptest server.
type Client struct {
	httpc     *http.Client
	baseURL   string
	searchURL string
	timeout   time.Duration
	retries   int
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	clock     clockwork.Clock
}

func New(cfg config.UpstreamConfig, clock clockwork.Clock) *Client {
	settings := gobreaker.Settings{
		Name:        "upstream-chart",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpen(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	return &Client{
		httpc:     &http.Client{},
		baseURL:   cfg.BaseURL,
		searchURL: cfg.SearchBaseURL,
		timeout:   cfg.Timeout(),
		retries:   cfg.Retries,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		breaker:   gobreaker.NewCircuitBreaker(settings),
		clock:     clock,
	}
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// doJSON performs one throttled GET with the attempt timeout and hands a
// 2xx response to decode. The terminal result tells the caller's retry
// loop to stop: 404s and other non-retryable statuses are terminal,
// network errors and 429/5xx are not.
func (c *Client) doJSON(ctx context.Context, rawURL string, timeout time.Duration, decode func(*http.Response) error) (terminal bool, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return true, err
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return true, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return !retryableStatus(resp.StatusCode), &httpStatusError{status: resp.StatusCode}
	}
	if err := decode(resp); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

func buildURL(base, path string, params url.Values) string {
	return base + path + "?" + params.Encode()
}
