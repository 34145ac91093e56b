// Package metrics exposes Prometheus collectors for the dispatch pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dispatchBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskpipe_dispatch_batches_total",
			Help: "Total batches sent to the calculation backend, labeled by status.",
		},
		[]string{"status"},
	)

	dispatchBatchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riskpipe_dispatch_batch_duration_seconds",
			Help:    "Histogram of backend batch call latencies, labeled by status.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	dispatchRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskpipe_requests_in_flight",
			Help: "Requests submitted to the backend but not yet completed.",
		},
	)

	resultCellsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskpipe_result_cells_total",
			Help: "Total flattened result cells, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskpipe_runs_total",
			Help: "Total dispatch runs, labeled by status.",
		},
		[]string{"status"},
	)
)

// Handler returns the http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBatch records one backend batch call.
func ObserveBatch(status string, duration time.Duration) {
	dispatchBatchesTotal.WithLabelValues(status).Inc()
	dispatchBatchDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// AddInFlight adjusts the in-flight requests gauge by delta.
func AddInFlight(delta int) {
	dispatchRequestsInFlight.Add(float64(delta))
}

// ObserveCells records flattened cell counts for one completed request.
func ObserveCells(total, errors int) {
	if errors > 0 {
		resultCellsTotal.WithLabelValues("error").Add(float64(errors))
	}
	if total > errors {
		resultCellsTotal.WithLabelValues("ok").Add(float64(total - errors))
	}
}

// ObserveRun records one completed dispatch run.
func ObserveRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}
