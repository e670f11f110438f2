package app

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/timberline-erp/timberline/internal/delivery"
	"github.com/timberline-erp/timberline/internal/interstore"
	"github.com/timberline-erp/timberline/internal/ledger"
	"github.com/timberline-erp/timberline/internal/observability"
	"github.com/timberline-erp/timberline/internal/payments"
	"github.com/timberline-erp/timberline/internal/platform/httpx"
	"github.com/timberline-erp/timberline/internal/sales"
	"github.com/timberline-erp/timberline/internal/shared"
	"github.com/timberline-erp/timberline/internal/summary"
	"github.com/timberline-erp/timberline/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Status            *shared.ServiceStatus
	LedgerHandler     *ledger.Handler
	SalesHandler      *sales.Handler
	DeliveryHandler   *delivery.Handler
	InterstoreHandler *interstore.Handler
	PaymentsHandler   *payments.Handler
	SummaryHandler    *summary.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Timberline defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Status:  params.Status,
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
		r.Route("/products", params.LedgerHandler.MountRoutes)
		r.Route("/sales", params.SalesHandler.MountRoutes)
		r.Route("/deliveries", params.DeliveryHandler.MountRoutes)
		r.Route("/interstore", params.InterstoreHandler.MountRoutes)
		r.Route("/payments", params.PaymentsHandler.MountRoutes)
		r.Route("/summary", params.SummaryHandler.MountRoutes)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			suspended, redirectURL := params.Status.Snapshot()
			httpx.JSON(w, http.StatusOK, map[string]any{
				"suspended":    suspended,
				"redirect_url": redirectURL,
			})
		})
		r.Post("/suspend", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				RedirectURL string `json:"redirect_url"`
			}
			if err := httpx.DecodeJSON(req, &body); err != nil && !errors.Is(err, io.EOF) {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
				return
			}
			params.Status.Suspend(body.RedirectURL)
			params.Logger.Warn("service suspended", slog.String("redirect_url", body.RedirectURL))
			httpx.JSON(w, http.StatusOK, map[string]any{"suspended": true})
		})
		r.Post("/resume", func(w http.ResponseWriter, req *http.Request) {
			params.Status.Resume()
			params.Logger.Info("service resumed")
			httpx.JSON(w, http.StatusOK, map[string]any{"suspended": false})
		})
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
