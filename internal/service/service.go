// Package service orchestrates the data core: single-flight payload
// builds with stale-on-failure fallback, quote snapshots, search and
// news pass-throughs, and the background hot-set refresher. The HTTP
// layer talks only to this package.
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/fadingview/marketd/internal/cache"
	"github.com/fadingview/marketd/internal/config"
	"github.com/fadingview/marketd/internal/market"
)

// Upstream is the slice of the vendor client the service consumes,
// narrowed so tests can fake it.
type Upstream interface {
	Chart(ctx context.Context, symbol, period, interval string, prepost bool) (market.Frame, error)
	ChartBatch(ctx context.Context, symbols []string, period, interval string, prepost bool) market.WideFrame
	Metadata(ctx context.Context, symbol string) market.Meta
	Search(ctx context.Context, query string) ([]market.SearchResult, error)
}

// NewsFetcher supplies headlines for one ticker.
type NewsFetcher interface {
	Headlines(ctx context.Context, symbol string, limit int) ([]market.NewsItem, error)
}

// Observer receives cache and build events for metrics. Implementations
// must be safe for concurrent use.
type Observer interface {
	CacheEvent(outcome string)
	BuildCompleted(outcome string, elapsed time.Duration)
	SetHotKeys(n int)
}

// NopObserver satisfies Observer with no-ops for tests and tools.
type NopObserver struct{}

func (NopObserver) CacheEvent(string)                    {}
func (NopObserver) BuildCompleted(string, time.Duration) {}
func (NopObserver) SetHotKeys(int)                       {}

type Service struct {
	cfg   *config.Config
	clock clockwork.Clock
	up    Upstream
	news  NewsFetcher
	store *cache.Store
	obs   Observer

	flights singleflight.Group

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(cfg *config.Config, clock clockwork.Clock, up Upstream, news NewsFetcher, store *cache.Store, obs Observer) *Service {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Service{
		cfg:      cfg,
		clock:    clock,
		up:       up,
		news:     news,
		store:    store,
		obs:      obs,
		inFlight: make(map[string]struct{}),
	}
}

// Store exposes the cache for the rate limiter's freshness probe and for
// health reporting.
func (s *Service) Store() *cache.Store { return s.store }

// PayloadFresh reports whether the payload for the normalized key is
// currently inside its TTL, without touching hot tracking.
func (s *Service) PayloadFresh(symbol, tf string, ext bool) bool {
	ext = market.EffectiveExt(tf, ext)
	key := market.PayloadKey(symbol, tf, ext)
	_, fresh, ok := s.store.PeekPayload(key, config.DataTTL(tf))
	return ok && fresh
}

// InFlight reports whether a build for key currently holds the
// single-flight slot.
func (s *Service) InFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	return ok
}

func (s *Service) markInFlight(key string) {
	s.mu.Lock()
	s.inFlight[key] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) clearInFlight(key string) {
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
}

// meta returns the cached symbol decoration, performing and caching the
// lookup on a miss. Failed lookups cache the zero value so a broken
// endpoint is not re-hit per request.
func (s *Service) meta(ctx context.Context, symbol string) market.Meta {
	if meta, ok := s.store.GetMeta(symbol); ok {
		return meta
	}
	meta := s.up.Metadata(ctx, symbol)
	meta.Is247 = is247(symbol, meta)
	s.store.SetMeta(symbol, meta)
	return meta
}

func is247(symbol string, meta market.Meta) bool {
	qt := strings.ToUpper(meta.QuoteType)
	if qt == "CRYPTOCURRENCY" || qt == "CRYPTO" {
		return true
	}
	return market.HasCryptoSuffix(symbol)
}

// Search serves symbol lookup through the 5-minute cache. Upstream
// failures surface; the handler degrades them to an empty result set.
func (s *Service) Search(ctx context.Context, query string) ([]market.SearchResult, error) {
	key := strings.ToUpper(strings.TrimSpace(query))
	if key == "" {
		return []market.SearchResult{}, nil
	}
	if results, ok := s.store.GetSearch(key); ok {
		return results, nil
	}
	results, err := s.up.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	s.store.SetSearch(key, results)
	return results, nil
}

// News proxies the headline feed; callers treat errors as empty results.
func (s *Service) News(ctx context.Context, symbol string, limit int) ([]market.NewsItem, error) {
	return s.news.Headlines(ctx, symbol, limit)
}

// Prewarm builds payloads for a symbol list sequentially, reporting
// per-symbol failures without aborting the batch.
func (s *Service) Prewarm(ctx context.Context, symbols []string, tf string, ext bool) (warmed int, failed []string) {
	failed = []string{}
	for _, symbol := range symbols {
		if _, err := s.Payload(ctx, symbol, tf, ext); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Str("tf", tf).Msg("prewarm build failed")
			failed = append(failed, symbol)
			continue
		}
		warmed++
	}
	return warmed, failed
}

// CacheStats reports store sizes for the health endpoint.
func (s *Service) CacheStats() cache.Stats { return s.store.Stats() }
