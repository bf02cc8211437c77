package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fadingview/marketd/internal/config"
)

// Run is the hot-set refresher: one loop for all keys, ticking every
// refresh interval, rebuilding recently requested payloads and quote
// snapshots before foreground reads find them stale. It returns when ctx
// is canceled.
func (s *Service) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(config.RefreshTick)
	defer ticker.Stop()
	log.Info().Dur("tick", config.RefreshTick).Msg("hot-set refresher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hot-set refresher stopped")
			return
		case <-ticker.Chan():
			s.refreshHotData(ctx)
			s.refreshHotQuotes(ctx)
		}
	}
}

func (s *Service) refreshHotData(ctx context.Context) {
	hot := s.store.HotData()
	s.obs.SetHotKeys(len(hot))
	for _, h := range hot {
		if ctx.Err() != nil {
			return
		}
		if _, fresh, ok := s.store.PeekPayload(h.Key, config.DataTTL(h.Timeframe)); ok && fresh {
			continue
		}
		if s.InFlight(h.Key) || s.store.InCooldown(h.Key) {
			continue
		}
		if _, err := s.buildOrWait(ctx, h.Key, h.Symbol, h.Timeframe, h.Ext); err != nil {
			log.Debug().Err(err).Str("key", h.Key).Msg("background refresh failed")
		}
	}
}

func (s *Service) refreshHotQuotes(ctx context.Context) {
	for _, mode := range []string{"rth", "ext"} {
		if ctx.Err() != nil {
			return
		}
		symbols := s.store.HotQuoteSymbols(mode)
		if len(symbols) == 0 {
			continue
		}
		ext := mode == "ext"
		key := QuoteKey(symbols, ext)
		if _, fresh, ok := s.store.PeekQuotes(key); ok && fresh {
			continue
		}
		if s.InFlight(key) {
			continue
		}
		if _, stale := s.buildQuotes(ctx, key, symbols, ext); stale {
			log.Debug().Str("key", key).Int("symbols", len(symbols)).Msg("quote refresh served stale")
		}
	}
}

// HealthStatus is the /api/health document.
type HealthStatus struct {
	Status           string `json:"status"`
	TS               string `json:"ts"`
	AuthEnabled      bool   `json:"auth_enabled"`
	RateLimitEnabled bool   `json:"rate_limit_enabled"`
}

// Health reports liveness plus which request gates are active.
func (s *Service) Health() HealthStatus {
	return HealthStatus{
		Status:           "ok",
		TS:               s.clock.Now().UTC().Format(time.RFC3339),
		AuthEnabled:      s.cfg.Auth.Enabled,
		RateLimitEnabled: s.cfg.RateLimit.Enabled,
	}
}
