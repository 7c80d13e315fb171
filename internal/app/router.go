package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-treasury/internal/observability"
	"github.com/odyssey-erp/odyssey-treasury/internal/payments"
	"github.com/odyssey-erp/odyssey-treasury/internal/transfers"
	"github.com/odyssey-erp/odyssey-treasury/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Pool             *pgxpool.Pool
	PaymentsHandler  *payments.Handler
	TransfersHandler *transfers.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Error("health check failed", slog.Any("error", err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	limit := 120
	if params.Config != nil && params.Config.RateLimitPerMinute > 0 {
		limit = params.Config.RateLimitPerMinute
	}
	mutating := MutationLimit(limit)

	if params.PaymentsHandler != nil {
		r.Route("/api/payments", func(r chi.Router) {
			params.PaymentsHandler.MountRoutes(r, mutating)
		})
	}
	if params.TransfersHandler != nil {
		r.Route("/api/transfers", func(r chi.Router) {
			params.TransfersHandler.MountRoutes(r, mutating)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
