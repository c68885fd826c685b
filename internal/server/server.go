// Package server sets up the HTTP router, middleware, and request handlers
// exposing the gateway facade over an OpenAI-compatible REST API.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/howard-nolan/llmrouter/internal/core/gateway"
	"github.com/howard-nolan/llmrouter/internal/core/logging"
)

// Server holds the HTTP router and the gateway facade every handler
// dispatches to. Which provider serves a call is the facade's business
// (resolved through its settings port), not the host's.
type Server struct {
	router  chi.Router
	gw      *gateway.Gateway
	logger  logging.Logger
	metrics http.Handler
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler. metricsHandler is optional (nil disables
// the /metrics route); the host supplies promhttp.HandlerFor(its registry)
// when it wants Prometheus scraping wired in.
func New(gw *gateway.Gateway, logger logging.Logger, metricsHandler http.Handler) *Server {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	s := &Server{gw: gw, logger: logger, metrics: metricsHandler}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.metrics.ServeHTTP)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/chat/completions/batch", s.handleChatCompletionsBatch)
	r.Post("/v1/embeddings", s.handleEmbeddings)

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
