package http

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/fadingview/marketd/internal/config"
	"github.com/fadingview/marketd/internal/market"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health())
}

// chartParams pulls and normalizes the common data-route inputs.
func chartParams(r *http.Request) (symbol, tf string, ext bool, err error) {
	symbol = market.NormalizeSymbol(mux.Vars(r)["symbol"])
	if symbol == "" {
		return "", "", false, market.InvalidArgumentf("invalid symbol")
	}
	tf = market.NormalizeTimeframe(r.URL.Query().Get("tf"))
	ext = market.ParseExt(r.URL.Query().Get("ext"))
	return symbol, tf, ext, nil
}

// sinceParam parses the client watermark; negatives clamp to zero and an
// unparseable value is the caller's mistake.
func sinceParam(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, market.InvalidArgumentf("invalid since value %q", raw)
	}
	return market.ClampSince(since), nil
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	symbol, tf, ext, err := chartParams(r)
	if err != nil {
		writeDomainError(w, r, s.clock, err)
		return
	}
	payload, err := s.svc.Payload(r.Context(), symbol, tf, ext)
	if err != nil {
		writeDomainError(w, r, s.clock, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleDelta(w http.ResponseWriter, r *http.Request) {
	symbol, tf, ext, err := chartParams(r)
	if err != nil {
		writeDomainError(w, r, s.clock, err)
		return
	}
	since, err := sinceParam(r)
	if err != nil {
		writeDomainError(w, r, s.clock, err)
		return
	}
	delta, err := s.svc.Delta(r.Context(), symbol, tf, ext, since)
	if err != nil {
		writeDomainError(w, r, s.clock, err)
		return
	}
	writeJSON(w, http.StatusOK, delta)
}

// parseSymbolList splits a CSV, normalizes each entry and deduplicates
// preserving first occurrence, capped at max.
func parseSymbolList(raw string, max int) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		symbol := market.NormalizeSymbol(part)
		if symbol == "" {
			continue
		}
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
		if len(out) >= max {
			break
		}
	}
	return out
}

type quotesResponse struct {
	Quotes map[string]market.Quote `json:"quotes"`
	Stale  bool                    `json:"stale"`
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	symbols := parseSymbolList(r.URL.Query().Get("symbols"), config.MaxQuoteSymbols)
	if len(symbols) == 0 {
		writeJSON(w, http.StatusOK, quotesResponse{Quotes: map[string]market.Quote{}})
		return
	}
	// The snapshot key sorts the list so member order does not fragment
	// the cache.
	sort.Strings(symbols)
	ext := market.ParseExt(r.URL.Query().Get("ext"))
	quotes, stale := s.svc.Quotes(r.Context(), symbols, ext)
	writeJSON(w, http.StatusOK, quotesResponse{Quotes: quotes, Stale: stale})
}

type searchResponse struct {
	Query   string                `json:"query"`
	Results []market.SearchResult `json:"results"`
	Error   string                `json:"error,omitempty"`
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeJSON(w, http.StatusOK, searchResponse{Query: query, Results: []market.SearchResult{}})
		return
	}
	results, err := s.svc.Search(r.Context(), query)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("symbol search failed")
		writeJSON(w, http.StatusOK, searchResponse{Query: query, Results: []market.SearchResult{}, Error: "search_failed"})
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: query, Results: results})
}

type newsResponse struct {
	Symbol      string            `json:"symbol"`
	Items       []market.NewsItem `json:"items"`
	LastUpdated string            `json:"last_updated"`
}

// newsSymbol keeps the stricter charset the headline feed accepts.
func newsSymbol(raw string) string {
	up := strings.ToUpper(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range up {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	symbol := newsSymbol(r.URL.Query().Get("symbol"))
	limit := 3
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 10 {
		limit = 10
	}

	items := []market.NewsItem{}
	if symbol != "" {
		fetched, err := s.svc.News(r.Context(), symbol, limit)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("news fetch failed")
		} else if fetched != nil {
			items = fetched
		}
	}
	writeJSON(w, http.StatusOK, newsResponse{
		Symbol:      symbol,
		Items:       items,
		LastUpdated: s.clock.Now().UTC().Format(time.RFC3339),
	})
}

type prewarmResponse struct {
	Warmed  int      `json:"warmed"`
	Symbols []string `json:"symbols"`
	Failed  []string `json:"failed"`
	TF      string   `json:"tf"`
	Ext     bool     `json:"ext"`
}

func (s *Server) handlePrewarm(w http.ResponseWriter, r *http.Request) {
	symbols := parseSymbolList(r.URL.Query().Get("symbols"), config.MaxPrewarmSymbols)
	if len(symbols) == 0 {
		writeJSON(w, http.StatusOK, prewarmResponse{Warmed: 0, Symbols: []string{}, Failed: []string{}})
		return
	}
	tf := r.URL.Query().Get("tf")
	if strings.TrimSpace(tf) == "" {
		tf = "1h"
	}
	tf = market.NormalizeTimeframe(tf)
	ext := market.ParseExt(r.URL.Query().Get("ext"))

	warmed, failed := s.svc.Prewarm(r.Context(), symbols, tf, ext)
	writeJSON(w, http.StatusOK, prewarmResponse{
		Warmed:  warmed,
		Symbols: symbols,
		Failed:  failed,
		TF:      tf,
		Ext:     ext,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, s.clock, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}
