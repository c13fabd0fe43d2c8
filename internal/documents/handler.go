package documents

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/jobtrack/internal/platform/httpx"
)

const maxUploadBytes = 32 << 20

type documentService interface {
	Upload(ctx context.Context, in UploadInput) (Document, error)
	List(ctx context.Context, jobID string) ([]Document, error)
	Delete(ctx context.Context, id string) error
	DownloadURL(ctx context.Context, id string) (string, error)
}

// Handler serves multipart uploads and document lookups.
type Handler struct {
	logger  *slog.Logger
	service documentService
}

// NewHandler constructs a documents HTTP handler.
func NewHandler(logger *slog.Logger, service documentService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the document routes that are addressed by id.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/documents/{docID}/download", h.download)
	r.Delete("/documents/{docID}", h.delete)
}

// MountJobRoutes registers list and upload below a router that carries the
// job id as {id}.
func (h *Handler) MountJobRoutes(r chi.Router) {
	r.Get("/documents", h.list)
	r.Post("/documents", h.upload)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, docs)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: file field required", httpx.ErrBadRequest))
		return
	}
	defer file.Close()
	doc, err := h.service.Upload(r.Context(), UploadInput{
		JobID:       chi.URLParam(r, "id"),
		Type:        Type(r.FormValue("type")),
		RoleID:      r.FormValue("role_id"),
		Description: r.FormValue("description"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		h.logger.Warn("upload document", slog.String("job_id", chi.URLParam(r, "id")), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	url, err := h.service.DownloadURL(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "docID")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
