// Package metrics provides Prometheus metrics for the help center service
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ingestion metrics
	IngestRunsTotal      *prometheus.CounterVec
	IngestDocumentsTotal *prometheus.CounterVec
	IngestRunDuration    prometheus.Histogram
	IngestLastSuccess    prometheus.Gauge

	// Retrieval and answer metrics
	SearchQueriesTotal prometheus.Counter
	SearchResultsTotal prometheus.Counter
	SearchDuration     prometheus.Histogram
	AnswersTotal       *prometheus.CounterVec
	ProviderDuration   prometheus.Histogram
	DocumentsStored    prometheus.Gauge
	SchemaResultsTotal *prometheus.CounterVec
}

// New creates all metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helpdesk_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.IngestRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_ingest_runs_total",
			Help: "Total number of ingestion runs",
		},
		[]string{"status"},
	)

	m.IngestDocumentsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_ingest_documents_total",
			Help: "Total number of documents handled by ingestion",
		},
		[]string{"outcome"},
	)

	m.IngestRunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helpdesk_ingest_run_duration_seconds",
			Help:    "Duration of ingestion runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	m.IngestLastSuccess = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "helpdesk_ingest_last_success_timestamp_seconds",
			Help: "Unix time of the last successful ingestion run",
		},
	)

	m.SearchQueriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "helpdesk_search_queries_total",
			Help: "Total number of search queries",
		},
	)

	m.SearchResultsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "helpdesk_search_results_total",
			Help: "Total number of search results returned",
		},
	)

	m.SearchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helpdesk_search_duration_seconds",
			Help:    "Duration of search queries in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	m.AnswersTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_answers_total",
			Help: "Total number of answered questions",
		},
		[]string{"status"},
	)

	m.ProviderDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helpdesk_provider_duration_seconds",
			Help:    "Duration of generative provider calls in seconds",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	m.DocumentsStored = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "helpdesk_documents_stored",
			Help: "Number of documents in the store",
		},
	)

	m.SchemaResultsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_schema_results_total",
			Help: "Schema manager outcomes",
		},
		[]string{"result"},
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records one served request
func (m *Metrics) RecordHTTPRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordIngestDocument records the outcome of one document: inserted, updated or failed
func (m *Metrics) RecordIngestDocument(outcome string) {
	if m == nil {
		return
	}
	m.IngestDocumentsTotal.WithLabelValues(outcome).Inc()
}

// RecordIngestRun records a finished ingestion run
func (m *Metrics) RecordIngestRun(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.IngestRunDuration.Observe(duration.Seconds())
	if err != nil {
		m.IngestRunsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.IngestRunsTotal.WithLabelValues("ok").Inc()
	m.IngestLastSuccess.SetToCurrentTime()
}

// RecordSearch records one executed search
func (m *Metrics) RecordSearch(results int, duration time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.Inc()
	m.SearchResultsTotal.Add(float64(results))
	m.SearchDuration.Observe(duration.Seconds())
}

// RecordAnswer records one answer pipeline run and its provider latency
func (m *Metrics) RecordAnswer(providerDuration time.Duration, err error) {
	if m == nil {
		return
	}
	if providerDuration > 0 {
		m.ProviderDuration.Observe(providerDuration.Seconds())
	}
	if err != nil {
		m.AnswersTotal.WithLabelValues("failed").Inc()
		return
	}
	m.AnswersTotal.WithLabelValues("ok").Inc()
}

// RecordSchema records a schema manager outcome
func (m *Metrics) RecordSchema(result string) {
	if m == nil {
		return
	}
	m.SchemaResultsTotal.WithLabelValues(result).Inc()
}

// SetDocumentsStored updates the stored document gauge
func (m *Metrics) SetDocumentsStored(n int) {
	if m == nil {
		return
	}
	m.DocumentsStored.Set(float64(n))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
