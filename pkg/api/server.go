package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cortexops/drover/pkg/log"
	"github.com/cortexops/drover/pkg/metrics"
	"github.com/cortexops/drover/pkg/orchestrator"
	"github.com/cortexops/drover/pkg/registry"
)

// Server is the HTTP front door of the control plane.
type Server struct {
	orch     *orchestrator.Orchestrator
	registry *registry.Registry
	srv      *http.Server
	logger   zerolog.Logger
}

// NewServer creates the API server listening on addr.
func NewServer(addr string, orch *orchestrator.Orchestrator, reg *registry.Registry) *Server {
	s := &Server{
		orch:     orch,
		registry: reg,
		logger:   log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", s.handleSubmitTask)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Get("/tasks/{id}/history", s.handleTaskHistory)
		r.Delete("/tasks/{id}", s.handleCancelTask)
		r.Post("/tasks/{id}/result", s.handleReportResult)
		r.Post("/tasks/{id}/failure", s.handleReportFailure)

		r.Post("/workers", s.handleRegisterWorker)
		r.Get("/workers", s.handleListWorkers)
		r.Get("/workers/{id}", s.handleGetWorker)
		r.Delete("/workers/{id}", s.handleDeregisterWorker)
		r.Post("/workers/{id}/heartbeat", s.handleHeartbeat)
		r.Put("/workers/{id}/health", s.handleUpdateHealth)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. It blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("api server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// observe records request count and latency per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
