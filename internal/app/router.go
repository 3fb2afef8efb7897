package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wasteflow/wasteflow/internal/declaration"
	"github.com/wasteflow/wasteflow/internal/lmaimport"
	"github.com/wasteflow/wasteflow/internal/observability"
	"github.com/wasteflow/wasteflow/internal/platform/httpx"
	"github.com/wasteflow/wasteflow/internal/signature"
	"github.com/wasteflow/wasteflow/internal/weightticket"
	"github.com/wasteflow/wasteflow/jobs"
)

// RouteMounter is implemented by every domain handler.
type RouteMounter interface {
	MountRoutes(r chi.Router)
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	WeightTicketHandler *weightticket.Handler
	SignatureHandler    *signature.Handler
	DeclarationHandler  *declaration.Handler
	ImportHandler       *lmaimport.Handler
	JobHandler          *jobs.Handler
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				logger.Warn("readiness check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mounters := []RouteMounter{}
	if params.WeightTicketHandler != nil {
		mounters = append(mounters, params.WeightTicketHandler)
	}
	if params.SignatureHandler != nil {
		mounters = append(mounters, params.SignatureHandler)
	}
	if params.DeclarationHandler != nil {
		mounters = append(mounters, params.DeclarationHandler)
	}
	if params.ImportHandler != nil {
		mounters = append(mounters, params.ImportHandler)
	}
	if params.JobHandler != nil {
		mounters = append(mounters, params.JobHandler)
	}
	for _, m := range mounters {
		m.MountRoutes(r)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
