package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fadingview/marketd/internal/config"
	"github.com/fadingview/marketd/internal/market"
)

// streamErrorFrame is the single error event emitted per contiguous
// failure run; the loop keeps ticking and recovers silently.
type streamErrorFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Ext       bool   `json:"ext"`
}

// sseWriter wraps the response for event-stream framing and keep-alive
// bookkeeping.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	wrote   bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) event(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		return err
	}
	s.flusher.Flush()
	s.wrote = true
	return nil
}

// keepAlive writes the comment frame. It does not count as a data write,
// so an idle stream keeps emitting one comment per keep-alive interval.
func (s *sseWriter) keepAlive() error {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// takeWrote reports and clears the since-last-check write flag.
func (s *sseWriter) takeWrote() bool {
	wrote := s.wrote
	s.wrote = false
	return wrote
}

func (s *Server) handleStreamData(w http.ResponseWriter, r *http.Request) {
	symbol, tf, ext, err := chartParams(r)
	if err != nil {
		writeDomainError(w, r, s.clock, err)
		return
	}
	watermark, err := sinceParam(r)
	if err != nil {
		writeDomainError(w, r, s.clock, err)
		return
	}
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, r, s.clock, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	s.metrics.ActiveStreams.Inc()
	defer s.metrics.ActiveStreams.Dec()
	log.Info().Str("symbol", symbol).Str("tf", tf).Bool("ext", ext).Int64("since", watermark).Msg("data stream opened")
	defer log.Info().Str("symbol", symbol).Str("tf", tf).Msg("data stream closed")

	ctx := r.Context()
	lastSig := ""
	inErrorRun := false

	tick := func() bool {
		payload, err := s.svc.Payload(ctx, symbol, tf, ext)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			if !inErrorRun {
				inErrorRun = true
				if werr := sse.event(streamErrorFrame{
					Type:      "stream_error",
					Message:   "temporary data error",
					Symbol:    symbol,
					Timeframe: tf,
					Ext:       ext,
				}); werr != nil {
					return false
				}
			}
			return true
		}
		inErrorRun = false

		delta := market.ProjectDelta(payload, watermark)
		if !delta.HasContent() {
			return true
		}
		sig := delta.Signature()
		if sig == lastSig {
			return true
		}
		if werr := sse.event(delta); werr != nil {
			return false
		}
		lastSig = sig
		if delta.LatestTime > watermark {
			watermark = delta.LatestTime
		}
		return true
	}

	s.runStream(ctx, config.StreamTick(tf), sse, tick)
}

func (s *Server) handleStreamQuotes(w http.ResponseWriter, r *http.Request) {
	symbols := parseSymbolList(r.URL.Query().Get("symbols"), config.MaxQuoteSymbols)
	if len(symbols) == 0 {
		writeError(w, r, s.clock, http.StatusBadRequest, market.KindInvalidArgument.String(), "symbols parameter is required")
		return
	}
	sort.Strings(symbols)
	ext := market.ParseExt(r.URL.Query().Get("ext"))

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, r, s.clock, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	s.metrics.ActiveStreams.Inc()
	defer s.metrics.ActiveStreams.Dec()
	log.Info().Int("symbols", len(symbols)).Bool("ext", ext).Msg("quote stream opened")
	defer log.Info().Int("symbols", len(symbols)).Msg("quote stream closed")

	ctx := r.Context()
	lastFrame := ""

	tick := func() bool {
		quotes, stale := s.svc.QuoteStreamTick(ctx, symbols, ext)
		if ctx.Err() != nil {
			return false
		}
		frame := quotesResponse{Quotes: quotes, Stale: stale}
		raw, err := json.Marshal(frame)
		if err != nil {
			return true
		}
		if string(raw) == lastFrame {
			return true
		}
		if werr := sse.event(frame); werr != nil {
			return false
		}
		lastFrame = string(raw)
		return true
	}

	s.runStream(ctx, config.QuoteStreamTick, sse, tick)
}

// runStream drives one subscription: an immediate tick, then the
// timeframe cadence, with keep-alive comments whenever a full keep-alive
// interval passes without a data write. It exits on client disconnect,
// server shutdown, or a failed write.
func (s *Server) runStream(ctx context.Context, tickEvery time.Duration, sse *sseWriter, tick func() bool) {
	if !tick() {
		return
	}
	ticker := s.clock.NewTicker(tickEvery)
	defer ticker.Stop()
	keep := s.clock.NewTicker(config.StreamKeepAlive)
	defer keep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !tick() {
				return
			}
		case <-keep.Chan():
			if sse.takeWrote() {
				continue
			}
			if err := sse.keepAlive(); err != nil {
				return
			}
		}
	}
}
