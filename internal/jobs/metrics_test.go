package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestTrackerCountsOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("scan").End(boom), boom)

	require.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("scan", "success")))
	require.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("scan", "failure")))
	require.Equal(t, 1.0, counterValue(t, m.failures.WithLabelValues("scan")))
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddCheques("due", 3)
	m.AddCheques("due", 0)
	m.AddShortfalls(2)

	require.Equal(t, 3.0, counterValue(t, m.cheques.WithLabelValues("due")))
	require.Equal(t, 2.0, counterValue(t, m.shortfalls))

	var nilMetrics *Metrics
	nilMetrics.AddCheques("due", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
