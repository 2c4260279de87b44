// Package server exposes the supervisor and dispatcher state over a small
// HTTP API, plus a server-sent events stream of lifecycle events.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/telnet2/mcpchat/internal/event"
	"github.com/telnet2/mcpchat/internal/mcp"
)

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // no write timeout, the event stream is long-lived
	}
}

// Server is the HTTP API over a supervisor and dispatcher pair.
type Server struct {
	config     *Config
	router     *chi.Mux
	httpSrv    *http.Server
	supervisor *mcp.Supervisor
	dispatcher *mcp.Dispatcher
	bus        *event.Bus
}

// New creates a server. The bus may be nil, in which case the event stream
// endpoint reports that streaming is unavailable.
func New(cfg *Config, sup *mcp.Supervisor, disp *mcp.Dispatcher, bus *event.Bus) *Server {
	s := &Server{
		config:     cfg,
		router:     chi.NewRouter(),
		supervisor: sup,
		dispatcher: disp,
		bus:        bus,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/servers", s.handleServers)
		r.Get("/tools", s.handleTools)
		r.Get("/invocations", s.handleInvocations)
		r.Get("/invocations/summary", s.handleInvocationSummary)
		r.Post("/servers/{name}/refresh", s.handleRefreshServer)
		r.Get("/events", s.handleEvents)
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router, for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
