// Package metrics exposes Prometheus collectors for the rank tracker service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes recorded by ObserveCycle.
const (
	CycleCompleted = "completed"
	CycleSkipped   = "skipped"
	CycleFailed    = "failed"
)

// Keyword check results recorded by ObserveKeyword.
const (
	KeywordFound    = "found"
	KeywordNotFound = "not_found"
	KeywordError    = "error"
)

var (
	checkCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranktracker_check_cycles_total",
			Help: "Total number of ranking check cycles, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	checkCycleDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ranktracker_check_cycle_duration_seconds",
			Help:    "Histogram of completed check cycle durations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	keywordChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranktracker_keyword_checks_total",
			Help: "Total number of keyword ranking checks, labeled by result.",
		},
		[]string{"result"},
	)

	projectFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ranktracker_project_failures_total",
			Help: "Total number of projects whose check or snapshot persistence failed.",
		},
	)

	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranktracker_provider_requests_total",
			Help: "Total number of search provider page requests, labeled by status code.",
		},
		[]string{"status"},
	)

	providerPacingDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ranktracker_provider_pacing_delay_seconds",
			Help:    "Histogram of waits introduced by provider request pacing.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	snapshotExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranktracker_snapshot_exports_total",
			Help: "Total number of snapshot exports, labeled by status.",
		},
		[]string{"status"},
	)

	schedulerIntervalMinutes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ranktracker_scheduler_interval_minutes",
			Help: "Interval currently armed by the scheduler; zero when stopped.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle counts a check cycle. Duration is only recorded for cycles that ran.
func ObserveCycle(outcome string, duration time.Duration) {
	checkCyclesTotal.WithLabelValues(outcome).Inc()
	if outcome != CycleSkipped {
		checkCycleDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveKeyword counts a single keyword check.
func ObserveKeyword(result string) {
	keywordChecksTotal.WithLabelValues(result).Inc()
}

// ObserveProjectFailure counts a project that could not be processed.
func ObserveProjectFailure() {
	projectFailuresTotal.Inc()
}

// ObserveProviderRequest counts a provider page request. Transport failures use code 0.
func ObserveProviderRequest(code int) {
	status := "error"
	if code > 0 {
		status = strconv.Itoa(code)
	}
	providerRequestsTotal.WithLabelValues(status).Inc()
}

// ObservePacingDelay records how long a provider request waited for pacing.
func ObservePacingDelay(d time.Duration) {
	providerPacingDelaySeconds.Observe(d.Seconds())
}

// ObserveExport counts a snapshot export attempt.
func ObserveExport(ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	snapshotExportsTotal.WithLabelValues(status).Inc()
}

// SetSchedulerInterval publishes the armed interval; pass 0 when stopped.
func SetSchedulerInterval(minutes int) {
	schedulerIntervalMinutes.Set(float64(minutes))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
