package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobLog is one append-only audit entry attached to a job.
type JobLog struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Action    string         `json:"action"`
	Detail    string         `json:"detail"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditLogger appends job logs into job_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Append persists the entry. Entries are never updated or deleted.
func (l *AuditLogger) Append(ctx context.Context, log JobLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if log.JobID == "" || log.Action == "" {
		return errors.New("job log requires job_id/action")
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO job_logs (id, job_id, action, detail, meta, created_at)
VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`, log.ID, log.JobID, log.Action, log.Detail, metaJSON, log.CreatedAt)
	return err
}

// List returns the logs of a job in append order.
func (l *AuditLogger) List(ctx context.Context, jobID string) ([]JobLog, error) {
	if l == nil || l.pool == nil {
		return nil, errors.New("audit logger not initialised")
	}
	rows, err := l.pool.Query(ctx, `SELECT id, job_id, action, detail, meta, created_at
FROM job_logs WHERE job_id=$1 ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []JobLog
	for rows.Next() {
		var (
			entry JobLog
			meta  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Action, &entry.Detail, &meta, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &entry.Meta); err != nil {
				return nil, err
			}
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
