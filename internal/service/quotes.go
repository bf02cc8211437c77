package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fadingview/marketd/internal/market"
	"github.com/fadingview/marketd/internal/pipeline"
)

func quoteMode(ext bool) string {
	if ext {
		return "ext"
	}
	return "rth"
}

// QuoteKey is the snapshot cache key for a sorted symbol list.
func QuoteKey(symbols []string, ext bool) string {
	return "quotes:" + quoteMode(ext) + ":" + strings.Join(symbols, ",")
}

// Quotes serves a snapshot for a sorted, deduplicated symbol list. A
// fresh snapshot returns immediately; a stale one is served flagged while
// the refresher rebuilds it in the background; a miss builds inline.
func (s *Service) Quotes(ctx context.Context, symbols []string, ext bool) (map[string]market.Quote, bool) {
	if len(symbols) == 0 {
		return map[string]market.Quote{}, false
	}
	mode := quoteMode(ext)
	key := QuoteKey(symbols, ext)
	s.store.TouchHotQuotes(mode, symbols)

	if quotes, fresh, ok := s.store.PeekQuotes(key); ok {
		if fresh {
			return quotes, false
		}
		return quotes, true
	}
	quotes, stale := s.buildQuotes(ctx, key, symbols, ext)
	return quotes, stale
}

// QuoteStreamTick is the per-tick snapshot for streaming subscribers:
// unlike the one-shot path it rebuilds stale snapshots inline so a lone
// subscriber does not watch stale data until the refresher notices.
func (s *Service) QuoteStreamTick(ctx context.Context, symbols []string, ext bool) (map[string]market.Quote, bool) {
	if len(symbols) == 0 {
		return map[string]market.Quote{}, false
	}
	mode := quoteMode(ext)
	key := QuoteKey(symbols, ext)
	s.store.TouchHotQuotes(mode, symbols)

	if quotes, fresh, ok := s.store.PeekQuotes(key); ok && fresh {
		return quotes, false
	}
	return s.buildQuotes(ctx, key, symbols, ext)
}

// buildQuotes performs one single-flight batch download per snapshot key.
// An empty result falls back to the previous snapshot flagged stale; with
// nothing cached the empty map is cached to keep a dead group cheap.
func (s *Service) buildQuotes(ctx context.Context, key string, symbols []string, ext bool) (map[string]market.Quote, bool) {
	type result struct {
		quotes map[string]market.Quote
		stale  bool
	}
	ch := s.flights.DoChan(key, func() (any, error) {
		s.markInFlight(key)
		defer s.clearInFlight(key)
		bctx := context.WithoutCancel(ctx)

		wide := s.up.ChartBatch(bctx, symbols, "1d", "1m", ext)
		metas := make(map[string]market.Meta, len(symbols))
		for _, symbol := range symbols {
			metas[symbol] = s.meta(bctx, symbol)
		}
		quotes := pipeline.DeriveQuotes(wide, metas, ext)
		if len(quotes) > 0 {
			s.store.SetQuotes(key, quotes)
			return result{quotes: quotes, stale: false}, nil
		}
		if prior, _, ok := s.store.PeekQuotes(key); ok {
			log.Warn().Str("key", key).Msg("quote rebuild came back empty, serving stale snapshot")
			return result{quotes: prior, stale: true}, nil
		}
		s.store.SetQuotes(key, map[string]market.Quote{})
		return result{quotes: map[string]market.Quote{}, stale: false}, nil
	})

	select {
	case res := <-ch:
		r := res.Val.(result)
		return r.quotes, r.stale
	case <-ctx.Done():
		if prior, _, ok := s.store.PeekQuotes(key); ok {
			return prior, true
		}
		return map[string]market.Quote{}, true
	}
}
