package jobs

import (
	"log/slog"

	jobmetrics "github.com/odyssey-erp/jobtrack/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

func loggerFor(logger *slog.Logger, job string) *slog.Logger {
	if logger != nil {
		return logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
