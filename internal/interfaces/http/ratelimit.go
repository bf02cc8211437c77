package http

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/fadingview/marketd/internal/config"
	"github.com/fadingview/marketd/internal/market"
)

const (
	classChart   = "chart-data"
	classGeneral = "general"
)

var chartPrefixes = []string{
	"/api/data/",
	"/api/data_delta/",
	"/api/stream/data/",
	"/api/chart/data/",
	"/api/chart/data_delta/",
	"/api/chart/stream/data/",
}

// freshProbe asks the service whether a payload key is currently fresh,
// which unlocks the boosted allowance for cheap polling traffic.
type freshProbe interface {
	PayloadFresh(symbol, tf string, ext bool) bool
}

type bucket struct {
	window int64
	count  int
}

// rateLimiter implements fixed one-minute windows per (client, class)
// with a separate bucket for fresh-cache-boosted traffic so the boost
// does not consume the base budget.
type rateLimiter struct {
	cfg   config.RateLimitConfig
	clock clockwork.Clock
	probe freshProbe

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newRateLimiter(cfg config.RateLimitConfig, clock clockwork.Clock, probe freshProbe) *rateLimiter {
	return &rateLimiter{
		cfg:     cfg,
		clock:   clock,
		buckets: make(map[string]*bucket),
		probe:   probe,
	}
}

func routeClassOf(path string) string {
	for _, prefix := range chartPrefixes {
		if strings.HasPrefix(path, prefix) {
			return classChart
		}
	}
	return classGeneral
}

// classLimits resolves the enable flag, rpm and fresh multiplier for a
// route class.
func (rl *rateLimiter) classLimits(class string) (enabled bool, rpm, multiplier int) {
	if class == classChart {
		return rl.cfg.ChartLimitEnabled(), rl.cfg.ChartRPM, rl.cfg.ChartFreshMultiplier
	}
	return rl.cfg.Enabled, rl.cfg.RPM, rl.cfg.FreshMultiplier
}

// freshBoost reports whether the request targets a data route whose
// cached payload is currently inside its TTL.
func (rl *rateLimiter) freshBoost(r *http.Request) bool {
	path := r.URL.Path
	probe := false
	for _, prefix := range []string{"/api/data/", "/api/data_delta/", "/api/chart/data/", "/api/chart/data_delta/"} {
		if strings.HasPrefix(path, prefix) {
			probe = true
			break
		}
	}
	if !probe || rl.probe == nil {
		return false
	}
	raw := path[strings.LastIndex(path, "/")+1:]
	symbol := market.NormalizeSymbol(raw)
	if symbol == "" {
		return false
	}
	tf := market.NormalizeTimeframe(r.URL.Query().Get("tf"))
	ext := market.ParseExt(r.URL.Query().Get("ext"))
	return rl.probe.PayloadFresh(symbol, tf, ext)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// allow counts one request and returns the effective limit, the
// remaining budget, and whether the request passes.
func (rl *rateLimiter) allow(r *http.Request, class string) (limit, remaining int, ok bool) {
	enabled, rpm, multiplier := rl.classLimits(class)
	if !enabled || rpm <= 0 {
		return 0, 0, true
	}

	key := clientIP(r) + "|" + class
	limit = rpm
	if rl.freshBoost(r) {
		key += "|fresh"
		limit = rpm * multiplier
	}
	window := rl.clock.Now().Unix() / 60

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists || b.window != window {
		b = &bucket{window: window}
		rl.buckets[key] = b
	}
	if len(rl.buckets) > rl.cfg.MaxBuckets {
		rl.reapLocked(window)
	}
	if b.count >= limit {
		return limit, 0, false
	}
	b.count++
	return limit, limit - b.count, true
}

// reapLocked drops buckets older than the previous window once the table
// grows past its soft cap.
func (rl *rateLimiter) reapLocked(window int64) {
	for key, b := range rl.buckets {
		if b.window < window-1 {
			delete(rl.buckets, key)
		}
	}
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// middleware enforces the per-class budget on every /api route. Streams
// cost one unit at connect time.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		class := routeClassOf(r.URL.Path)
		limit, remaining, ok := s.limiter.allow(r, class)
		if limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}
		if !ok {
			s.metrics.RateLimitedTotal.WithLabelValues(class).Inc()
			w.Header().Set("Retry-After", "60")
			writeError(w, r, s.clock, http.StatusTooManyRequests, market.KindRateLimited.String(), "rate limit exceeded, retry in 60s")
			return
		}
		next.ServeHTTP(w, r)
	})
}
