package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	analytichttp "github.com/odyssey-erp/odyssey-pos/internal/analytics/http"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Auth             *Authenticator
	JobHandler       *jobs.Handler
	AnalyticsHandler *analytichttp.Handler
	Metrics          *observability.Metrics
	Dependencies     []Dependency
}

// Dependency is one backing service checked by /readyz.
type Dependency struct {
	Name  string
	Check func(context.Context) error
}

const readinessTimeout = 2 * time.Second

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Auth:    params.Auth,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(params.Dependencies, params.Logger))

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.AnalyticsHandler != nil {
		params.AnalyticsHandler.MountRoutes(r)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

// readiness answers 503 when any dependency is down and reports each one's state.
func readiness(deps []Dependency, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(deps))
		status := http.StatusOK
		for _, p := range deps {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			err := p.Check(ctx)
			cancel()
			if err != nil {
				logger.Warn("readiness check failed", slog.String("dependency", p.Name), slog.Any("error", err))
				checks[p.Name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[p.Name] = "up"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		httpx.JSON(w, status, map[string]any{"status": state, "checks": checks})
	}
}
