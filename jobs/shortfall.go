package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/jobtrack/internal/jobs"
)

// ShortfallJob reports lines that have to be purchased before a job can be produced.
type ShortfallJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewShortfallJob initialises the shortfall notifier.
func NewShortfallJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *ShortfallJob {
	return &ShortfallJob{Logger: logger, Metrics: metrics}
}

// Handle logs one warning per missing line.
func (j *ShortfallJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var payload ShortfallPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	var (
		logger  *slog.Logger
		metrics *jobmetrics.Metrics
	)
	if j != nil {
		logger, metrics = j.Logger, j.Metrics
	}
	metrics = metricsOrDefault(metrics)
	tracker := metrics.Track(TaskStockShortfall)
	defer func() { err = tracker.End(err) }()

	log := loggerFor(logger, TaskStockShortfall).With(slog.String("job_id", payload.JobID))
	for _, s := range payload.Shortfalls {
		log.Warn("stock to purchase",
			slog.String("item_id", s.ItemID),
			slog.String("name", s.Name),
			slog.Float64("requested", s.Requested),
			slog.Float64("missing", s.Missing),
		)
	}
	metrics.AddShortfalls(len(payload.Shortfalls))
	return nil
}
