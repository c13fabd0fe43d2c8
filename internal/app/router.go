package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/jobtrack/internal/documents"
	"github.com/odyssey-erp/jobtrack/internal/observability"
	"github.com/odyssey-erp/jobtrack/internal/payment"
	"github.com/odyssey-erp/jobtrack/internal/production"
	"github.com/odyssey-erp/jobtrack/internal/stock"
	"github.com/odyssey-erp/jobtrack/internal/workflow"
	"github.com/odyssey-erp/jobtrack/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	WorkflowHandler   *workflow.Handler
	StockHandler      *stock.Handler
	PaymentHandler    *payment.Handler
	ProductionHandler *production.Handler
	DocumentsHandler  *documents.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.WorkflowHandler != nil {
		if params.DocumentsHandler != nil {
			params.WorkflowHandler.Nest(params.DocumentsHandler.MountJobRoutes)
		}
		params.WorkflowHandler.MountRoutes(r)
	}
	if params.DocumentsHandler != nil {
		params.DocumentsHandler.MountRoutes(r)
	}
	if params.StockHandler != nil {
		params.StockHandler.MountRoutes(r)
	}
	if params.PaymentHandler != nil {
		params.PaymentHandler.MountRoutes(r)
	}
	if params.ProductionHandler != nil {
		params.ProductionHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/queue", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
