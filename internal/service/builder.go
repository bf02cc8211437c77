package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fadingview/marketd/internal/config"
	"github.com/fadingview/marketd/internal/market"
	"github.com/fadingview/marketd/internal/pipeline"
)

// Payload returns the chart document for (symbol, tf, ext), serving a
// fresh cache entry when one exists and otherwise funnelling all callers
// through one single-flight build per key. Stale data beats an error
// whenever any prior payload is cached.
func (s *Service) Payload(ctx context.Context, symbol, tf string, ext bool) (*market.Payload, error) {
	ext = market.EffectiveExt(tf, ext)
	key := market.PayloadKey(symbol, tf, ext)
	s.store.TouchHotData(symbol, tf, ext)

	if p, fresh, ok := s.store.PeekPayload(key, config.DataTTL(tf)); ok && fresh {
		s.obs.CacheEvent("hit")
		return p, nil
	}
	return s.buildOrWait(ctx, key, symbol, tf, ext)
}

// Delta projects the payload against the client watermark.
func (s *Service) Delta(ctx context.Context, symbol, tf string, ext bool, since int64) (market.Delta, error) {
	p, err := s.Payload(ctx, symbol, tf, ext)
	if err != nil {
		return market.Delta{}, err
	}
	return market.ProjectDelta(p, market.ClampSince(since)), nil
}

// buildOrWait coalesces concurrent builds per key. Waiters are bounded:
// after the build wait they fall back to any cached payload before
// surfacing unavailability.
func (s *Service) buildOrWait(ctx context.Context, key, symbol, tf string, ext bool) (*market.Payload, error) {
	ttl := config.DataTTL(tf)
	ch := s.flights.DoChan(key, func() (any, error) {
		s.markInFlight(key)
		defer s.clearInFlight(key)
		// The build outlives any single caller; a canceled waiter must
		// not poison the shared result.
		return s.runBuild(context.WithoutCancel(ctx), key, symbol, tf, ext)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*market.Payload), nil
	case <-s.clock.After(config.BuildWait):
		if p, fresh, ok := s.store.PeekPayload(key, ttl); ok {
			if fresh {
				s.obs.CacheEvent("hit")
			} else {
				s.obs.CacheEvent("stale")
			}
			return p, nil
		}
		return nil, market.Unavailablef("data build timed out for %s %s", symbol, tf)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runBuild is the single-flight executor: it re-checks freshness under
// the claim, honors the failure cooldown, and records success or failure
// markers around the actual pipeline run.
func (s *Service) runBuild(ctx context.Context, key, symbol, tf string, ext bool) (*market.Payload, error) {
	ttl := config.DataTTL(tf)
	if p, fresh, ok := s.store.PeekPayload(key, ttl); ok && fresh {
		s.obs.CacheEvent("hit")
		return p, nil
	}
	if s.store.InCooldown(key) {
		if p, _, ok := s.store.PeekPayload(key, ttl); ok {
			s.obs.CacheEvent("stale")
			return p, nil
		}
		return nil, market.Unavailablef("upstream cooling down for %s %s", symbol, tf)
	}

	start := s.clock.Now()
	p, err := s.buildPayload(ctx, symbol, tf, ext)
	if err != nil {
		s.store.MarkFailure(key)
		s.obs.BuildCompleted("failure", s.clock.Since(start))
		if stale, _, ok := s.store.PeekPayload(key, ttl); ok {
			log.Warn().Err(err).Str("key", key).Msg("build failed, serving stale payload")
			s.obs.CacheEvent("stale")
			return stale, nil
		}
		if market.KindOf(err) == market.KindUpstream {
			// A vendor failure with nothing cached is a temporary outage
			// for the caller; the cooldown marker is already set.
			return nil, market.Unavailablef("data build failed for %s %s: %v", symbol, tf, err)
		}
		return nil, err
	}
	s.store.SetPayload(key, p)
	s.obs.CacheEvent("miss")
	s.obs.BuildCompleted("success", s.clock.Since(start))
	return p, nil
}

// buildPayload downloads the raw frame, widens the period when the first
// response comes back short, drops the prepost flag when even the wide
// response is empty, and runs the transform pipeline.
func (s *Service) buildPayload(ctx context.Context, symbol, tf string, ext bool) (*market.Payload, error) {
	meta := s.meta(ctx, symbol)
	period, interval := config.PeriodInterval(tf)

	frame, err := s.up.Chart(ctx, symbol, period, interval, ext)
	if err != nil {
		return nil, err
	}
	if fallback, ok := config.FallbackPeriod(tf); ok && fallback != period && frame.Len() < config.MinBars(tf) {
		wider, werr := s.up.Chart(ctx, symbol, fallback, interval, ext)
		if werr == nil && wider.Len() > frame.Len() {
			frame = wider
		}
	}
	if frame.Empty() && ext {
		// Some instruments 404 on prepost ranges while trading fine in
		// regular hours.
		plain, perr := s.up.Chart(ctx, symbol, period, interval, false)
		if perr == nil {
			frame = plain
		}
	}

	return pipeline.Build(frame, pipeline.BuildSpec{
		Symbol:    symbol,
		Timeframe: tf,
		Ext:       ext,
		Is247:     meta.Is247,
		Meta:      meta,
		BuiltAt:   s.clock.Now().Unix(),
	})
}
