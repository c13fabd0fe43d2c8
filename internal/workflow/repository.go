package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/jobtrack/internal/shared"
)

// PgRepository stores jobs as a JSONB document next to the columns used for
// filtering and optimistic locking.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL job repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Create inserts a new job.
func (r *PgRepository) Create(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO jobs (id, customer_id, status, start_type, version, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.CustomerID, string(job.Status), string(job.StartType), job.Version, payload, job.CreatedAt, job.UpdatedAt)
	return err
}

// Get loads a job.
func (r *PgRepository) Get(ctx context.Context, id string) (Job, error) {
	var (
		payload []byte
		version int64
	)
	err := r.pool.QueryRow(ctx, `SELECT payload, version FROM jobs WHERE id = $1`, id).Scan(&payload, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, shared.NotFound("job", id)
		}
		return Job{}, err
	}
	return decodeJob(payload, version)
}

// Save replaces the stored job when its version still equals expectedVersion.
func (r *PgRepository) Save(ctx context.Context, job Job, expectedVersion int64) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE jobs
		SET status = $2, version = $3, payload = $4, updated_at = $5
		WHERE id = $1 AND version = $6`,
		job.ID, string(job.Status), job.Version, payload, job.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, job.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return shared.NotFound("job", job.ID)
	}
	return fmt.Errorf("job %s: %w", job.ID, shared.ErrConflict)
}

// List returns jobs ordered by last update.
func (r *PgRepository) List(ctx context.Context, filter ListFilter) ([]Job, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.StartType != "" {
		args = append(args, string(filter.StartType))
		where = append(where, fmt.Sprintf("start_type = $%d", len(args)))
	}
	query := `SELECT payload, version FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, max(filter.Offset, 0))
	query += fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", listOrder(filter), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		var (
			payload []byte
			version int64
		)
		if err := rows.Scan(&payload, &version); err != nil {
			return nil, err
		}
		job, err := decodeJob(payload, version)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func decodeJob(payload []byte, version int64) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	job.Version = version
	return job, nil
}

func listOrder(filter ListFilter) string {
	if filter.Stable {
		return "created_at, id"
	}
	return "updated_at DESC, id"
}
