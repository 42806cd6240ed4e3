package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/lending"
)

// Options carries the optional parts of the server.
type Options struct {
	Version   string
	RateLimit domain.RateLimitConfig

	// Gatherer backs /metrics. Nil leaves the endpoint out.
	Gatherer prometheus.Gatherer
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc *lending.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, opts Options) *Server {
	handler := NewHandler(svc, repo, cache, bus, opts.Version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Operational endpoints (not rate limited)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if opts.Gatherer != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Group(func(r chi.Router) {
		var counters CounterStore
		if cache != nil {
			counters = cache
		}
		r.Use(RateLimitMiddleware(counters, opts.RateLimit))

		r.Route("/customer", func(r chi.Router) {
			r.Post("/register", handler.RegisterCustomer)
			r.Get("/{customer_id}", handler.GetCustomer)
		})

		r.Route("/loan", func(r chi.Router) {
			r.Post("/check-eligibility", handler.CheckEligibility)
			r.Post("/create-loan", handler.CreateLoan)
			r.Get("/view-loan/{loan_id}", handler.ViewLoan)
			r.Get("/view-loan/{loan_id}/events", handler.ListLoanEvents)
			r.Put("/make-payment/{customer_id}/{loan_id}", handler.MakePayment)
			r.Get("/view-statement/{customer_id}/{loan_id}", handler.ViewStatement)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
