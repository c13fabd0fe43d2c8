package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/jobtrack/internal/shared"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	ledgerBatches   *prometheus.CounterVec
	ledgerLines     *prometheus.HistogramVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobtrack_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobtrack_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobtrack_workflow_transitions_total",
		Help: "Jumlah transisi status pekerjaan berdasarkan asal, tujuan dan hasil.",
	}, []string{"from", "to", "result"})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobtrack_stock_batches_total",
		Help: "Jumlah batch stok berdasarkan operasi dan hasil.",
	}, []string{"op", "result"})
	lines := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobtrack_stock_batch_lines",
		Help:    "Jumlah baris per batch stok.",
		Buckets: []float64{1, 2, 5, 10, 20, 50},
	}, []string{"op"})
	registry.MustRegister(requests, duration, transitions, batches, lines)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		transitions:     transitions,
		ledgerBatches:   batches,
		ledgerLines:     lines,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveTransition mencatat satu percobaan transisi pekerjaan.
func (m *Metrics) ObserveTransition(from, to string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, resultLabel(err)).Inc()
}

// ObserveLedgerBatch mencatat satu batch stok.
func (m *Metrics) ObserveLedgerBatch(op string, lines int, err error) {
	if m == nil {
		return
	}
	m.ledgerBatches.WithLabelValues(op, resultLabel(err)).Inc()
	m.ledgerLines.WithLabelValues(op).Observe(float64(lines))
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrValidation):
		return "rejected"
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, shared.ErrReconciliation):
		return "mismatch"
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrLockBusy):
		return "conflict"
	default:
		return "error"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
