// Package http is marketd's request surface: the route table, the
// middleware chain (request IDs, logging, metrics, auth, rate limiting,
// timeouts) and the SSE stream loops. Handlers parse and normalize
// inputs, call the service and shape responses; no caching or upstream
// logic lives here.
package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/fadingview/marketd/internal/config"
	"github.com/fadingview/marketd/internal/service"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Server wires the service into the HTTP surface.
type Server struct {
	cfg     *config.Config
	clock   clockwork.Clock
	svc     *service.Service
	metrics *MetricsRegistry
	limiter *rateLimiter
	router  *mux.Router
	server  *http.Server
}

func NewServer(cfg *config.Config, clock clockwork.Clock, svc *service.Service, metrics *MetricsRegistry) *Server {
	s := &Server{
		cfg:     cfg,
		clock:   clock,
		svc:     svc,
		metrics: metrics,
		router:  mux.NewRouter(),
	}
	if cfg.RateLimit.Enabled || cfg.RateLimit.ChartLimitEnabled() {
		s.limiter = newRateLimiter(cfg.RateLimit, clock, svc)
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout stays zero: SSE connections are long-lived.
		IdleTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.authMiddleware)
	s.router.Use(s.rateLimitMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET").Name("health")

	// /api/chart aliases exist for deployments that mount the API behind
	// a path-based proxy.
	for _, prefix := range []string{"/api", "/api/chart"} {
		s.router.HandleFunc(prefix+"/data/{symbol}", s.handleData).Methods("GET").Name("data")
		s.router.HandleFunc(prefix+"/data_delta/{symbol}", s.handleDelta).Methods("GET").Name("data_delta")
		s.router.HandleFunc(prefix+"/stream/data/{symbol}", s.handleStreamData).Methods("GET").Name("stream_data")
	}

	s.router.HandleFunc("/api/quotes", s.handleQuotes).Methods("GET").Name("quotes")
	s.router.HandleFunc("/api/stream/quotes", s.handleStreamQuotes).Methods("GET").Name("stream_quotes")
	s.router.HandleFunc("/api/symbols", s.handleSymbols).Methods("GET").Name("symbols")
	s.router.HandleFunc("/api/prewarm", s.handlePrewarm).Methods("GET").Name("prewarm")
	s.router.HandleFunc("/api/news", s.handleNews).Methods("GET").Name("news")

	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET").Name("metrics")
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// Router exposes the handler tree for httptest servers.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		requestID, _ := r.Context().Value(requestIDKey).(string)

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		event := log.Info()
		if wrapper.statusCode >= 500 {
			event = log.Warn()
		}
		event.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", s.clock.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil && current.GetName() != "" {
			route = current.GetName()
		}
		start := s.clock.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(wrapper.statusCode)).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(s.clock.Since(start).Seconds())
	})
}

// timeoutMiddleware bounds non-stream requests; stream routes manage
// their own lifetime.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/stream/") {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout())
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start serves until ctx is canceled; SSE loops observe the same ctx
// through the request base context. Shutdown drains with the configured
// grace.
func (s *Server) Start(ctx context.Context) error {
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Server.Addr).Msg("http server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownGrace())
	defer cancel()
	log.Info().Msg("shutting down http server")
	return s.server.Shutdown(shutdownCtx)
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE works through the
// middleware chain.
func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
