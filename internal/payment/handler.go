package payment

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jobtrack/internal/platform/httpx"
)

// Handler exposes the reconciler as a stateless calculator for clients that
// want to check a plan before submitting the agreement transition.
type Handler struct {
	logger     *slog.Logger
	reconciler *Reconciler
	now        func() time.Time
}

// NewHandler constructs the payment HTTP handler.
func NewHandler(logger *slog.Logger, reconciler *Reconciler) *Handler {
	return &Handler{logger: logger, reconciler: reconciler, now: time.Now}
}

type reconcileRequest struct {
	Plan       Plan            `json:"plan"`
	OfferTotal decimal.Decimal `json:"offer_total"`
}

type reconcileResponse struct {
	Result
	Schedule []ScheduledCheque `json:"schedule,omitempty"`
	Problems []string          `json:"problems,omitempty"`
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments/reconcile", h.reconcile)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	today := h.now()
	res, err := h.reconciler.Validate(req.Plan, req.OfferTotal, today)
	resp := reconcileResponse{Result: res, Schedule: h.reconciler.Schedule(req.Plan.Cheque.Items, today)}
	if err != nil {
		if mismatch := asMismatch(err); mismatch != nil {
			resp.Problems = mismatch.Messages()
		} else {
			httpx.RespondError(w, err)
			return
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}
