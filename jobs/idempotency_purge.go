package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/jobtrack/internal/jobs"
)

// KeyPurger removes idempotency keys older than a retention window.
type KeyPurger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyPurgeJob keeps the idempotency table bounded.
type IdempotencyPurgeJob struct {
	Store   KeyPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyPurgeJob initialises the purge handler.
func NewIdempotencyPurgeJob(store KeyPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyPurgeJob {
	return &IdempotencyPurgeJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle purges expired keys. Retention below one day is raised to one day so
// that keys of retried batches are never dropped mid flight.
func (j *IdempotencyPurgeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency purge: handler not configured")
	}
	var payload IdempotencyPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Retention < 24*time.Hour {
		payload.Retention = 24 * time.Hour
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskIdempotencyPurge)
	defer func() { err = tracker.End(err) }()

	removed, err := j.Store.Purge(ctx, payload.Retention)
	if err != nil {
		return err
	}
	loggerFor(j.Logger, TaskIdempotencyPurge).Info("idempotency keys purged", slog.Int64("removed", removed))
	return nil
}
