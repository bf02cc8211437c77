// Package cache is the process-local store behind the data service:
// chart payloads, quote snapshots, search and metadata lookups, failure
// cooldown markers and the hot-key tables the background refresher scans.
// Nothing here survives a restart by design.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fadingview/marketd/internal/config"
	"github.com/fadingview/marketd/internal/market"
)

// HotKey is one recently requested payload key.
type HotKey struct {
	Key       string
	Symbol    string
	Timeframe string
	Ext       bool
	LastSeen  time.Time
}

type payloadEntry struct {
	payload *market.Payload
	builtAt time.Time
}

type quoteEntry struct {
	quotes  map[string]market.Quote
	builtAt time.Time
}

type searchEntry struct {
	results []market.SearchResult
	expires time.Time
}

type metaEntry struct {
	meta    market.Meta
	expires time.Time
}

// Store guards all shared cache state with one RWMutex. Readers never
// evict payloads: stale entries stay around as the fallback when a
// rebuild fails.
type Store struct {
	clock clockwork.Clock

	mu        sync.RWMutex
	payloads  map[string]payloadEntry
	failures  map[string]time.Time
	hotData   map[string]HotKey
	hotQuotes map[string]map[string]time.Time
	quotes    map[string]quoteEntry
	searches  map[string]searchEntry
	metas     map[string]metaEntry
}

func New(clock clockwork.Clock) *Store {
	return &Store{
		clock:     clock,
		payloads:  make(map[string]payloadEntry),
		failures:  make(map[string]time.Time),
		hotData:   make(map[string]HotKey),
		hotQuotes: make(map[string]map[string]time.Time),
		quotes:    make(map[string]quoteEntry),
		searches:  make(map[string]searchEntry),
		metas:     make(map[string]metaEntry),
	}
}

// PeekPayload returns the cached payload for key without evicting,
// plus whether it is still inside ttl.
func (s *Store) PeekPayload(key string, ttl time.Duration) (payload *market.Payload, fresh, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.payloads[key]
	if !ok {
		return nil, false, false
	}
	return entry.payload, s.clock.Since(entry.builtAt) <= ttl, true
}

// SetPayload replaces the entry for key and clears any failure marker.
func (s *Store) SetPayload(key string, payload *market.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[key] = payloadEntry{payload: payload, builtAt: s.clock.Now()}
	delete(s.failures, key)
}

// MarkFailure opens the cooldown window for key.
func (s *Store) MarkFailure(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key] = s.clock.Now()
}

// InCooldown reports whether key failed within the cooldown window.
func (s *Store) InCooldown(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	failedAt, ok := s.failures[key]
	return ok && s.clock.Since(failedAt) <= config.FailureCooldown
}

// TouchHotData records a foreground read so the refresher keeps the key
// warm.
func (s *Store) TouchHotData(symbol, tf string, ext bool) {
	key := market.PayloadKey(symbol, tf, ext)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hotData[key] = HotKey{
		Key:       key,
		Symbol:    symbol,
		Timeframe: tf,
		Ext:       ext,
		LastSeen:  s.clock.Now(),
	}
}

// HotData returns the keys requested within the hot window, reaping the
// rest as a side effect.
func (s *Store) HotData() []HotKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HotKey, 0, len(s.hotData))
	for key, hot := range s.hotData {
		if s.clock.Since(hot.LastSeen) > config.HotWindow {
			delete(s.hotData, key)
			continue
		}
		out = append(out, hot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// TouchHotQuotes records quote interest per mode ("rth" or "ext").
func (s *Store) TouchHotQuotes(mode string, symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.hotQuotes[mode]
	if !ok {
		set = make(map[string]time.Time)
		s.hotQuotes[mode] = set
	}
	now := s.clock.Now()
	for _, symbol := range symbols {
		set[symbol] = now
	}
}

// HotQuoteSymbols returns the mode's warm symbols sorted, reaping stale
// ones.
func (s *Store) HotQuoteSymbols(mode string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.hotQuotes[mode]
	out := make([]string, 0, len(set))
	for symbol, seen := range set {
		if s.clock.Since(seen) > config.HotWindow {
			delete(set, symbol)
			continue
		}
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// PeekQuotes returns a quote snapshot and whether it is inside the quote
// TTL.
func (s *Store) PeekQuotes(key string) (quotes map[string]market.Quote, fresh, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.quotes[key]
	if !ok {
		return nil, false, false
	}
	return entry.quotes, s.clock.Since(entry.builtAt) <= config.QuoteTTL, true
}

func (s *Store) SetQuotes(key string, quotes map[string]market.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[key] = quoteEntry{quotes: quotes, builtAt: s.clock.Now()}
	delete(s.failures, key)
}

// Search results and metadata expire outright; nothing falls back to a
// stale lookup.

func (s *Store) GetSearch(key string) ([]market.SearchResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.searches[key]
	if !ok || s.clock.Now().After(entry.expires) {
		return nil, false
	}
	return entry.results, true
}

func (s *Store) SetSearch(key string, results []market.SearchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches[key] = searchEntry{results: results, expires: s.clock.Now().Add(config.SearchTTL)}
}

func (s *Store) GetMeta(symbol string) (market.Meta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.metas[symbol]
	if !ok || s.clock.Now().After(entry.expires) {
		return market.Meta{}, false
	}
	return entry.meta, true
}

// SetMeta caches a metadata lookup, including the zero value: a broken
// lookup endpoint is negative-cached for the same TTL.
func (s *Store) SetMeta(symbol string, meta market.Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas[symbol] = metaEntry{meta: meta, expires: s.clock.Now().Add(config.MetaTTL)}
}

// Stats is a point-in-time size snapshot for health and metrics.
type Stats struct {
	Payloads  int
	Failures  int
	HotData   int
	HotQuotes int
	Quotes    int
	Searches  int
	Metas     int
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hotQuotes := 0
	for _, set := range s.hotQuotes {
		hotQuotes += len(set)
	}
	return Stats{
		Payloads:  len(s.payloads),
		Failures:  len(s.failures),
		HotData:   len(s.hotData),
		HotQuotes: hotQuotes,
		Quotes:    len(s.quotes),
		Searches:  len(s.searches),
		Metas:     len(s.metas),
	}
}
