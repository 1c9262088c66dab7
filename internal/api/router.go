package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apimiddleware "github.com/phrazzld/maintenance-orchestrator/internal/api/middleware"
	"github.com/phrazzld/maintenance-orchestrator/internal/api/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds the services behind the HTTP surface. Queue, Metrics
// and Health are optional; their routes are omitted or always healthy when
// unset.
type RouterConfig struct {
	Processor Processor
	Workflows WorkflowReader
	Queue     QueueInspector
	Metrics   prometheus.Gatherer
	Health    HealthCheck

	// RequestTimeout bounds each /api request. Zero means no limit.
	RequestTimeout time.Duration
}

// NewRouter builds the chi router serving the orchestrator API.
func NewRouter(cfg RouterConfig, logger *slog.Logger) (http.Handler, error) {
	if cfg.Processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if cfg.Workflows == nil {
		return nil, errors.New("workflow reader cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	requests := NewRequestHandler(cfg.Processor, logger)
	workflows := NewWorkflowHandler(cfg.Workflows, cfg.Processor, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(apimiddleware.NewTraceMiddleware(logger))
	r.Use(apimiddleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		}

		r.Post("/requests", requests.ProcessRequest)
		r.Post("/photos", requests.AnalyzePhoto)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", workflows.ListHistory)
			r.Get("/active", workflows.ListActive)
			r.Get("/{id}", workflows.GetWorkflow)
			r.Get("/{id}/transitions", workflows.GetTransitions)
			r.Post("/{id}/retry", workflows.RetryWorkflow)
		})

		if cfg.Queue != nil {
			queue := NewQueueHandler(cfg.Queue)
			r.Get("/queue/stats", queue.Stats)
			r.Get("/queue/dead-letters", queue.DeadLetters)
		}
	})

	r.Get("/health", healthHandler(cfg.Health))

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	return r, nil
}

func healthHandler(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "unhealthy", err)
				return
			}
		}
		shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
	}
}
