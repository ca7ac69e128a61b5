// Package metrics exposes Prometheus collectors for the stream-finder
// service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksSubmittedTotal prometheus.Counter
	tasksFinishedTotal  *prometheus.CounterVec
	taskDurationSeconds *prometheus.HistogramVec
	sourceStreamsTotal  *prometheus.CounterVec
	fetchesTotal        *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call this
// function multiple times.
func Init() {
	once.Do(func() {
		tasksSubmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "streamfinder_tasks_submitted_total",
				Help: "Total number of resolution tasks accepted.",
			},
		)

		tasksFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamfinder_tasks_finished_total",
				Help: "Total number of tasks reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamfinder_task_duration_seconds",
				Help:    "Histogram of end-to-end resolution durations, labeled by status.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		)

		sourceStreamsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamfinder_source_streams_total",
				Help: "Total stream records resolved, labeled by source.",
			},
			[]string{"source"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamfinder_fetches_total",
				Help: "Total batch fetch items, labeled by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TaskSubmitted increments the accepted-task counter.
func TaskSubmitted() {
	Init()
	tasksSubmittedTotal.Inc()
}

// TaskFinished records a terminal transition and, when positive, the
// run's duration.
func TaskFinished(status string, duration time.Duration) {
	Init()
	tasksFinishedTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		taskDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// SourceResolved records how many streams one source contributed.
func SourceResolved(source string, streams int) {
	Init()
	if streams > 0 {
		sourceStreamsTotal.WithLabelValues(source).Add(float64(streams))
	}
}

// FetchCompleted records the outcome of one batch fetch item.
func FetchCompleted(mode, outcome string) {
	Init()
	fetchesTotal.WithLabelValues(mode, outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
