package production

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/jobtrack/internal/platform/httpx"
)

type trackerService interface {
	Get(ctx context.Context, id string) (Order, error)
	ResolveIssue(ctx context.Context, orderID string, index int, note string) (Order, error)
}

// Handler serves order reads and issue follow-up. Order creation and
// deliveries go through the job workflow so they are logged on the job.
type Handler struct {
	logger  *slog.Logger
	service trackerService
}

// NewHandler constructs a production HTTP handler.
func NewHandler(logger *slog.Logger, service trackerService) *Handler {
	return &Handler{logger: logger, service: service}
}

type resolveRequest struct {
	Note string `json:"note"`
}

// MountRoutes registers production routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/production-orders/{id}", h.show)
	r.Post("/production-orders/{id}/issues/{index}/resolve", h.resolveIssue)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) resolveIssue(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: issue index", httpx.ErrBadRequest))
		return
	}
	var req resolveRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	order, err := h.service.ResolveIssue(r.Context(), chi.URLParam(r, "id"), index, req.Note)
	if err != nil {
		h.logger.Warn("resolve production issue", slog.String("order_id", chi.URLParam(r, "id")), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}
