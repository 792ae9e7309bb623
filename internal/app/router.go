package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jobhunter/jobhunter/internal/audit"
	"github.com/jobhunter/jobhunter/internal/auth"
	"github.com/jobhunter/jobhunter/internal/guard"
	"github.com/jobhunter/jobhunter/internal/observability"
	"github.com/jobhunter/jobhunter/internal/rbac"
	"github.com/jobhunter/jobhunter/internal/shared"
	"github.com/jobhunter/jobhunter/internal/users"
	"github.com/jobhunter/jobhunter/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	Guard          *guard.Pipeline
	Audit          *audit.Service

	AuthHandler  *auth.Handler
	RBACHandler  *rbac.Handler
	UsersHandler *users.Handler
	AuditHandler *audit.Handler
	JobHandler   *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with JobHunter defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Guard:          params.Guard,
		Audit:          params.Audit,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Route("/admin", func(r chi.Router) {
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.RBACHandler != nil {
			params.RBACHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
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
