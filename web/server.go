// ABOUTME: Operability HTTP server exposing executions, traces, router stats, and combined artifacts.
// ABOUTME: A chi router over the tracking services; this surface observes executions, it does not drive them.
package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/murtihash94/kasal-sub013/store"
	"github.com/murtihash94/kasal-sub013/tracking"
)

// Server serves the operability API for the execution tracking subsystem.
type Server struct {
	store    *store.SQLiteStore
	events   *tracking.EventRouter
	combiner *tracking.OutputCombiner
	queue    *tracking.TraceQueue
	router   chi.Router
}

// NewServer wires the tracking services behind a configured chi router.
func NewServer(st *store.SQLiteStore, events *tracking.EventRouter, combiner *tracking.OutputCombiner, queue *tracking.TraceQueue) *Server {
	s := &Server{
		store:    st,
		events:   events,
		combiner: combiner,
		queue:    queue,
	}
	s.router = s.buildRouter()
	return s
}

// buildRouter constructs the chi router with all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/executions", s.handleListExecutions)
		r.Post("/executions", s.handleCreateExecution)
		r.Get("/router", s.handleRouterStats)
		r.Get("/queue", s.handleQueueStats)

		r.Route("/executions/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleGetExecution)
			r.Get("/traces", s.handleListTraces)
			r.Get("/traces/tail", s.handleTailTraces)
			r.Post("/combine", s.handleCombine)
			r.Get("/combined", s.handleCombinedDocument)
		})
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
