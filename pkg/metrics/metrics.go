// Package metrics defines the Prometheus metric collectors used by the
// pipeline, its sinks and the query API, and exposes an HTTP handler for
// scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	StageRecordsTotal    *prometheus.CounterVec
	StageSkippedTotal    *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	StageRunsTotal       *prometheus.CounterVec
	PipelineRunsTotal    *prometheus.CounterVec
	DocumentCount        prometheus.Gauge
	SinkWritesTotal      *prometheus.CounterVec
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CacheBreakerState    prometheus.Gauge
}

// New creates all collectors and registers them with reg. A nil reg uses the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		StageRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stage_records_total",
				Help: "Records read and written per stage, by direction (in, shuffled, out).",
			},
			[]string{"stage", "direction"},
		),
		StageSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stage_skipped_total",
				Help: "Malformed records or values skipped per stage, by reason.",
			},
			[]string{"stage", "reason"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Wall-clock duration of each stage.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"stage"},
		),
		StageRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stage_runs_total",
				Help: "Stage executions by status (success, failed).",
			},
			[]string{"stage", "status"},
		),
		PipelineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Full pipeline runs by status (success, failed).",
			},
			[]string{"status"},
		),
		DocumentCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_document_count",
				Help: "Global document count frozen after the word count stage of the last run.",
			},
		),
		SinkWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_sink_writes_total",
				Help: "Score batches written per sink by status.",
			},
			[]string{"sink", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "score_cache_hits_total",
				Help: "Total number of score cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "score_cache_misses_total",
				Help: "Total number of score cache misses.",
			},
		),
		CacheBreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "score_cache_breaker_state",
				Help: "Score cache circuit breaker state (0 closed, 1 open, 2 half-open).",
			},
		),
	}

	reg.MustRegister(
		m.StageRecordsTotal,
		m.StageSkippedTotal,
		m.StageDuration,
		m.StageRunsTotal,
		m.PipelineRunsTotal,
		m.DocumentCount,
		m.SinkWritesTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
