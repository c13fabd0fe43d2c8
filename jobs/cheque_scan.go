package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/jobtrack/internal/jobs"
	"github.com/odyssey-erp/jobtrack/internal/payment"
	"github.com/odyssey-erp/jobtrack/internal/workflow"
)

const chequeScanPage = 200

// JobLister pages through stored jobs.
type JobLister interface {
	List(ctx context.Context, filter workflow.ListFilter) ([]workflow.Job, error)
}

// DueCheque is one cheque reported by a scan.
type DueCheque struct {
	JobID string
	payment.ScheduledCheque
}

// ChequeScanJob walks open jobs and reports agreed cheques maturing within the window.
type ChequeScanJob struct {
	Jobs       JobLister
	Reconciler *payment.Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewChequeScanJob initialises the cheque scan handler.
func NewChequeScanJob(jobs JobLister, reconciler *payment.Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ChequeScanJob {
	return &ChequeScanJob{
		Jobs:       jobs,
		Reconciler: reconciler,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *ChequeScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Jobs == nil || j.Reconciler == nil {
		return errors.New("cheque scan: handler not configured")
	}
	var payload ChequeScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowDays <= 0 {
		payload.WindowDays = 7
	}
	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskChequeScan)
	defer func() { err = tracker.End(err) }()

	due, overdue, err := j.Scan(ctx, payload.WindowDays)
	if err != nil {
		loggerFor(j.Logger, TaskChequeScan).Error("scan failed", slog.Any("error", err))
		return err
	}
	metrics.AddCheques("due", len(due))
	metrics.AddCheques("overdue", len(overdue))
	return nil
}

// Scan returns the cheques maturing within windowDays and those already past
// due, for every job that is agreed but not yet closed.
func (j *ChequeScanJob) Scan(ctx context.Context, windowDays int) (due, overdue []DueCheque, err error) {
	logger := loggerFor(j.Logger, TaskChequeScan)
	today := j.now()
	for offset := 0; ; offset += chequeScanPage {
		page, err := j.Jobs.List(ctx, workflow.ListFilter{Limit: chequeScanPage, Offset: offset, Stable: true})
		if err != nil {
			return nil, nil, err
		}
		for _, job := range page {
			items := job.Approval.PaymentPlan.Cheque.Items
			if len(items) == 0 || job.Finance.ClosedAt != nil || job.Status == workflow.StatusClosed {
				continue
			}
			for _, sc := range j.Reconciler.Schedule(items, today) {
				if sc.Overdue {
					overdue = append(overdue, DueCheque{JobID: job.ID, ScheduledCheque: sc})
					logger.Warn("cheque overdue",
						slog.String("job_id", job.ID),
						slog.String("number", sc.Number),
						slog.String("amount", sc.Amount.StringFixed(2)),
						slog.Int("days", -sc.DaysUntilDue))
				}
			}
			for _, sc := range j.Reconciler.DueWithin(items, today, windowDays) {
				due = append(due, DueCheque{JobID: job.ID, ScheduledCheque: sc})
				logger.Info("cheque due",
					slog.String("job_id", job.ID),
					slog.String("number", sc.Number),
					slog.String("amount", sc.Amount.StringFixed(2)),
					slog.Int("days_until_due", sc.DaysUntilDue))
			}
		}
		if len(page) < chequeScanPage {
			return due, overdue, nil
		}
	}
}

func (j *ChequeScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
