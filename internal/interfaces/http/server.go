// Package http serves the read API: ranked search, fuzzy lookup, place
// detail, city and cuisine listings, and health.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/chowrank/chowrank/internal/config"
	"github.com/chowrank/chowrank/internal/metrics"
	"github.com/chowrank/chowrank/internal/persistence"
)

const requestTimeout = 10 * time.Second

// Server is the read-only HTTP server.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	limiter  *RateLimiter
	cfg      config.ServerConfig
}

// NewServer wires routes, middleware, and rate limiting.
func NewServer(cfg config.Config, repo *persistence.Repository, health persistence.RepositoryHealth, limiter *RateLimiter) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: NewHandlers(repo, health, cfg),
		limiter:  limiter,
		cfg:      cfg.Server,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.metricsMiddleware)

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api/v2").Subrouter()

	// Route classes get different quotas: fuzzy search is the most
	// expensive query, listings the cheapest.
	limited := func(preset string, fn http.HandlerFunc) http.Handler {
		return s.limiter.Middleware(preset)(fn)
	}

	api.Handle("/search", limited("standard", s.handlers.Search)).Methods("GET")
	api.Handle("/fuzzy", limited("strict", s.handlers.Fuzzy)).Methods("GET")
	api.Handle("/places/{id}", limited("generous", s.handlers.PlaceDetail)).Methods("GET")
	api.Handle("/cities", limited("generous", s.handlers.Cities)).Methods("GET")
	api.Handle("/cuisines", limited("generous", s.handlers.Cuisines)).Methods("GET")
	api.Handle("/health", limited("burst", s.handlers.Health)).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found", "")
	})
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving and blocks until shutdown or failure.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server started")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

// requestIDMiddleware tags each request with a short id, echoed in the
// X-Request-ID header and the response meta.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		ctx = context.WithValue(ctx, ctxKeyStart, time.Now())
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("took", time.Since(start)).
			Str("remote", clientIP(r)).
			Msg("request")
	})
}

// timeoutMiddleware bounds each request; DB queries inherit the deadline.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, fmt.Sprintf("%d", wrapper.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
