package documents

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/jobtrack/internal/shared"
)

// RepositoryPort abstracts metadata persistence.
type RepositoryPort interface {
	Insert(ctx context.Context, doc Document) error
	Get(ctx context.Context, id string) (Document, error)
	ListByJob(ctx context.Context, jobID string) ([]Document, error)
	Delete(ctx context.Context, id string) error
}

// Service coordinates blob storage and metadata.
type Service struct {
	repo   RepositoryPort
	blobs  BlobStore
	urlTTL time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the document service. urlTTL bounds presigned links.
func NewService(repo RepositoryPort, blobs BlobStore, urlTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &Service{repo: repo, blobs: blobs, urlTTL: urlTTL, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Upload stores the file then its metadata. If metadata fails the blob is removed.
func (s *Service) Upload(ctx context.Context, in UploadInput) (Document, error) {
	var problems []string
	if in.JobID == "" {
		problems = append(problems, "job id required")
	}
	if !in.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown document type %q", in.Type))
	}
	if in.Type.RoleScoped() && in.RoleID == "" {
		problems = append(problems, fmt.Sprintf("%s requires a role", in.Type))
	}
	if strings.TrimSpace(in.FileName) == "" {
		problems = append(problems, "file name required")
	}
	if in.Body == nil || in.Size == 0 {
		problems = append(problems, ErrEmptyFile.Error())
	}
	if err := shared.NewValidationError(problems); err != nil {
		return Document{}, err
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	now := s.now()
	id := uuid.NewString()
	doc := Document{
		ID:          id,
		JobID:       in.JobID,
		Type:        in.Type,
		RoleID:      in.RoleID,
		Description: in.Description,
		FileName:    path.Base(in.FileName),
		ContentType: contentType,
		Size:        in.Size,
		ObjectKey:   fmt.Sprintf("jobs/%s/%s/%s%s", in.JobID, in.Type, id, path.Ext(in.FileName)),
		UploadedAt:  now,
	}
	if err := s.blobs.Put(ctx, doc.ObjectKey, in.Body, in.Size, contentType); err != nil {
		return Document{}, err
	}
	if err := s.repo.Insert(ctx, doc); err != nil {
		if rerr := s.blobs.Remove(ctx, doc.ObjectKey); rerr != nil {
			s.logger.Warn("documents: orphaned object", slog.String("key", doc.ObjectKey), slog.Any("error", rerr))
		}
		return Document{}, err
	}
	s.logger.Info("document uploaded", slog.String("job_id", doc.JobID), slog.String("type", string(doc.Type)), slog.String("document_id", doc.ID))
	return doc, nil
}

// List returns the documents of a job.
func (s *Service) List(ctx context.Context, jobID string) ([]Document, error) {
	return s.repo.ListByJob(ctx, jobID)
}

// Delete removes metadata first so a dangling blob never shows up as present.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Remove(ctx, doc.ObjectKey); err != nil {
		s.logger.Warn("documents: remove object", slog.String("key", doc.ObjectKey), slog.Any("error", err))
	}
	return nil
}

// DownloadURL returns a presigned link valid for the configured TTL.
func (s *Service) DownloadURL(ctx context.Context, id string) (string, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.blobs.PresignGet(ctx, doc.ObjectKey, doc.FileName, s.urlTTL)
}

// MissingDrawings lists, per role, every required drawing type not yet uploaded.
// An empty result means the job may leave the measurement stage.
func (s *Service) MissingDrawings(ctx context.Context, jobID string, roles []RoleRef) ([]string, error) {
	docs, err := s.repo.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d.Type.RoleScoped() {
			present[d.RoleID+"|"+string(d.Type)] = true
		}
	}
	var missing []string
	for _, role := range roles {
		label := role.Name
		if label == "" {
			label = role.ID
		}
		if !present[role.ID+"|"+string(TypeMeasurementDrawing)] {
			missing = append(missing, fmt.Sprintf("%s: measurement drawing missing", label))
		}
		if !present[role.ID+"|"+string(TypeTechnicalDrawing)] {
			missing = append(missing, fmt.Sprintf("%s: technical drawing missing", label))
		}
	}
	return missing, nil
}
