package workflow

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/jobtrack/internal/platform/httpx"
	"github.com/odyssey-erp/jobtrack/internal/production"
	"github.com/odyssey-erp/jobtrack/internal/shared"
)

type engineService interface {
	CreateJob(ctx context.Context, in CreateInput) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	List(ctx context.Context, filter ListFilter) ([]Job, error)
	Stages(ctx context.Context, jobID string) (Overview, error)
	Transition(ctx context.Context, jobID string, req TransitionRequest) (Job, error)
	Negotiate(ctx context.Context, jobID string, discount DiscountPatch, actor string) (Job, error)
	Logs(ctx context.Context, jobID string) ([]shared.JobLog, error)
	ProductionOrders(ctx context.Context, jobID string) ([]production.Order, error)
	CreateProductionOrder(ctx context.Context, jobID string, in production.CreateInput, actor string) (production.Order, error)
	RecordDelivery(ctx context.Context, orderID string, delivery []production.DeliveryLine, actor string) (DeliveryOutcome, error)
}

// ActorHeader carries the caller's name into audit entries.
const ActorHeader = "X-Actor"

// Handler is the JSON adapter over Engine.
type Handler struct {
	logger  *slog.Logger
	service engineService
	nested  []func(chi.Router)
}

// NewHandler constructs the workflow HTTP handler.
func NewHandler(logger *slog.Logger, service engineService) *Handler {
	return &Handler{logger: logger, service: service}
}

// Nest mounts extra routes below /jobs/{id}, e.g. the job's documents.
func (h *Handler) Nest(mount func(chi.Router)) {
	h.nested = append(h.nested, mount)
}

type deliveryRequest struct {
	Lines []production.DeliveryLine `json:"lines" validate:"required,min=1"`
}

// MountRoutes registers job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.show)
			r.Get("/stages", h.stages)
			r.Post("/transition", h.transition)
			r.Post("/negotiations", h.negotiate)
			r.Get("/logs", h.logs)
			r.Get("/production-orders", h.listOrders)
			r.Post("/production-orders", h.createOrder)
			for _, mount := range h.nested {
				mount(r)
			}
		})
	})
	r.Post("/production-orders/{id}/deliveries", h.recordDelivery)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	jobs, err := h.service.List(r.Context(), ListFilter{
		Status:    Status(q.Get("status")),
		StartType: StartType(q.Get("start_type")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.logger.Error("list jobs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}
	httpx.JSON(w, http.StatusOK, jobs)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.Actor = r.Header.Get(ActorHeader)
	job, err := h.service.CreateJob(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, job)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) stages(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Stages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.Actor = r.Header.Get(ActorHeader)
	jobID := chi.URLParam(r, "id")
	job, err := h.service.Transition(r.Context(), jobID, req)
	if err != nil {
		h.logger.Info("transition rejected", slog.String("job_id", jobID), slog.String("target", string(req.Target)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) negotiate(w http.ResponseWriter, r *http.Request) {
	var req DiscountPatch
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	job, err := h.service.Negotiate(r.Context(), chi.URLParam(r, "id"), req, r.Header.Get(ActorHeader))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.Logs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if logs == nil {
		logs = []shared.JobLog{}
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ProductionOrders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if orders == nil {
		orders = []production.Order{}
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in production.CreateInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.CreateProductionOrder(r.Context(), chi.URLParam(r, "id"), in, r.Header.Get(ActorHeader))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) recordDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	outcome, err := h.service.RecordDelivery(r.Context(), chi.URLParam(r, "id"), req.Lines, r.Header.Get(ActorHeader))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outcome)
}
