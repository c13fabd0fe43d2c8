package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/jobtrack/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries audit retries, which must not wait behind scans.
	QueueCritical = "critical"

	// TaskJobLogAppend retries an audit entry the API could not persist.
	TaskJobLogAppend = "workflow:log.append"
	// TaskStockShortfall reports stock lines moved to pending purchase.
	TaskStockShortfall = "stock:shortfall.notify"
	// TaskChequeScan lists agreed cheques maturing soon.
	TaskChequeScan = "payment:cheque.scan"
	// TaskIdempotencyPurge drops expired ledger idempotency keys.
	TaskIdempotencyPurge = "maintenance:idempotency.purge"
)

// JobLogPayload wraps the entry so the log id survives retries.
type JobLogPayload struct {
	Entry shared.JobLog `json:"entry"`
}

// NewJobLogTask constructs an audit retry task.
func NewJobLogTask(entry shared.JobLog) (*asynq.Task, error) {
	body, err := json.Marshal(JobLogPayload{Entry: entry})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskJobLogAppend, body, asynq.Queue(QueueCritical), asynq.MaxRetry(20)), nil
}

// ShortfallPayload lists the stock lines a job could not reserve.
type ShortfallPayload struct {
	JobID      string            `json:"job_id"`
	Shortfalls []shared.Shortfall `json:"shortfalls"`
}

// NewShortfallTask constructs a shortfall notification task.
func NewShortfallTask(jobID string, shortfalls []shared.Shortfall) (*asynq.Task, error) {
	body, err := json.Marshal(ShortfallPayload{JobID: jobID, Shortfalls: shortfalls})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockShortfall, body, asynq.Queue(QueueDefault)), nil
}

// ChequeScanPayload configures one scan run.
type ChequeScanPayload struct {
	WindowDays int `json:"window_days"`
}

// NewChequeScanTask constructs the cron task for the cheque scan.
func NewChequeScanTask(windowDays int) (*asynq.Task, error) {
	body, err := json.Marshal(ChequeScanPayload{WindowDays: windowDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskChequeScan, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyPurgePayload carries the retention window.
type IdempotencyPurgePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyPurgeTask constructs the purge task.
func NewIdempotencyPurgeTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyPurgePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyPurge, body, asynq.Queue(QueueDefault)), nil
}
