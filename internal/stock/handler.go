package stock

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/jobtrack/internal/platform/httpx"
)

type ledgerService interface {
	Items(ctx context.Context) ([]Item, error)
	Item(ctx context.Context, id string) (Item, error)
	Preview(ctx context.Context, lines []Line) ([]Projection, error)
}

// Handler exposes read-only stock endpoints. Mutations only happen through
// job transitions.
type Handler struct {
	logger  *slog.Logger
	service ledgerService
}

// NewHandler constructs the stock HTTP handler.
func NewHandler(logger *slog.Logger, service ledgerService) *Handler {
	return &Handler{logger: logger, service: service}
}

type previewRequest struct {
	Lines []Line `json:"lines" validate:"required,min=1,dive"`
}

type itemView struct {
	Item
	Available float64 `json:"available"`
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock", func(r chi.Router) {
		r.Get("/items", h.listItems)
		r.Get("/items/{id}", h.showItem)
		r.Post("/preview", h.preview)
	})
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Items(r.Context())
	if err != nil {
		h.logger.Error("list stock items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]itemView, 0, len(items))
	for _, item := range items {
		out = append(out, itemView{Item: item, Available: item.Available()})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) showItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Item(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, itemView{Item: item, Available: item.Available()})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Preview(r.Context(), req.Lines)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
