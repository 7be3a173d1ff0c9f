package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lawnet-hq/accessd/internal/access"
	"github.com/lawnet-hq/accessd/internal/approval"
	"github.com/lawnet-hq/accessd/internal/events"
	"github.com/lawnet-hq/accessd/internal/identity"
	"github.com/lawnet-hq/accessd/internal/observability"
	"github.com/lawnet-hq/accessd/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	AccessHandler   *access.Handler
	ApprovalHandler *approval.Handler
	IdentityHandler *identity.Handler
	StreamHandler   *events.StreamHandler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with accessd defaults.
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
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/access", func(r chi.Router) {
			if params.StreamHandler != nil {
				// The stream outlives the request timeout; keep it outside
				// the Timeout group below.
				r.Method(http.MethodGet, "/stream", params.StreamHandler)
			}
			r.Group(func(r chi.Router) {
				if params.Config != nil && params.Config.AppRequestTimeout > 0 {
					r.Use(chimw.Timeout(params.Config.AppRequestTimeout))
				}
				if params.AccessHandler != nil {
					params.AccessHandler.MountRoutes(r)
				}
				if params.ApprovalHandler != nil {
					r.Route("/requests", params.ApprovalHandler.MountRoutes)
				}
			})
		})
		if params.IdentityHandler != nil {
			r.Route("/identity", params.IdentityHandler.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
