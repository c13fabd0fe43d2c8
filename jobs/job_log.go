package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/jobtrack/internal/jobs"
	"github.com/odyssey-erp/jobtrack/internal/shared"
)

// AuditAppender persists job log entries. Appending the same id twice must be a no-op.
type AuditAppender interface {
	Append(ctx context.Context, entry shared.JobLog) error
}

// JobLogJob writes audit entries that failed on the request path.
type JobLogJob struct {
	Audit   AuditAppender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewJobLogJob initialises the audit retry handler.
func NewJobLogJob(audit AuditAppender, logger *slog.Logger, metrics *jobmetrics.Metrics) *JobLogJob {
	return &JobLogJob{Audit: audit, Logger: logger, Metrics: metrics}
}

// Handle appends the carried entry.
func (j *JobLogJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Audit == nil {
		return errors.New("job log: handler not configured")
	}
	var payload JobLogPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Entry.ID == "" || payload.Entry.JobID == "" || payload.Entry.Action == "" {
		return asynq.SkipRetry
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskJobLogAppend)
	defer func() { err = tracker.End(err) }()

	if err := j.Audit.Append(ctx, payload.Entry); err != nil {
		loggerFor(j.Logger, TaskJobLogAppend).Warn("audit retry failed",
			slog.String("job_id", payload.Entry.JobID),
			slog.String("log_id", payload.Entry.ID),
			slog.Any("error", err))
		return err
	}
	return nil
}
