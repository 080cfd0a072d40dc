// Package server wires the gateway's HTTP ingress: chi routing, middleware,
// and the health endpoint, around the underlying module services.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/signalbridge/internal/gateway"
	"github.com/aristath/signalbridge/internal/health"
	"github.com/aristath/signalbridge/internal/repository"
)

// Config holds everything Server needs to stand up the HTTP surface.
type Config struct {
	Log            zerolog.Logger
	Port           int
	DevMode        bool
	GatewayHandler *gateway.Handler
	HealthChecker  *health.Checker
	ExchangePings  []health.ExchangePing
	Accounts       *repository.AccountRepository
}

// Server is the webhook gateway's HTTP listener.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	gatewayHandler *gateway.Handler
	healthChecker  *health.Checker
	exchangePings  []health.ExchangePing
	accounts       *repository.AccountRepository
}

// New builds a Server and mounts every route, but does not start listening.
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		gatewayHandler: cfg.GatewayHandler,
		healthChecker:  cfg.HealthChecker,
		exchangePings:  cfg.ExchangePings,
		accounts:       cfg.Accounts,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"POST", "GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Signature", "X-Webhook-Token"},
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.gatewayHandler.Routes(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var accountIDs []string
	if s.accounts != nil {
		if ids, err := s.accounts.ListActiveIDs(r.Context()); err == nil {
			accountIDs = ids
		}
	}
	report := s.healthChecker.Check(r.Context(), s.exchangePings, accountIDs)

	status := http.StatusOK
	if report.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}

// Start begins serving HTTP traffic; it blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
