package documents

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/jobtrack/internal/shared"
)

// Repository persists document metadata in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const documentColumns = `id, job_id, doc_type, role_id, description, file_name, content_type, size_bytes, object_key, uploaded_at`

// Insert stores metadata.
func (r *Repository) Insert(ctx context.Context, doc Document) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO job_documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		doc.ID, doc.JobID, string(doc.Type), doc.RoleID, doc.Description, doc.FileName, doc.ContentType, doc.Size, doc.ObjectKey, doc.UploadedAt)
	return err
}

// Get returns one document.
func (r *Repository) Get(ctx context.Context, id string) (Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM job_documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, shared.NotFound("document", id)
	}
	return doc, err
}

// ListByJob returns documents of a job, newest first.
func (r *Repository) ListByJob(ctx context.Context, jobID string) ([]Document, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM job_documents WHERE job_id = $1 ORDER BY uploaded_at DESC, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Delete removes metadata.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM job_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("document", id)
	}
	return nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var (
		doc     Document
		docType string
	)
	if err := row.Scan(&doc.ID, &doc.JobID, &docType, &doc.RoleID, &doc.Description, &doc.FileName, &doc.ContentType, &doc.Size, &doc.ObjectKey, &doc.UploadedAt); err != nil {
		return Document{}, err
	}
	doc.Type = Type(docType)
	return doc, nil
}
