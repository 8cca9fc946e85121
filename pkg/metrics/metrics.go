package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Load run metrics
	LoadRunsTotal      *prometheus.CounterVec
	LoadRunDuration    *prometheus.HistogramVec
	LoadRunsInProgress prometheus.Gauge
	RowsProcessed      *prometheus.CounterVec
	RowsFailed         *prometheus.CounterVec

	// Calltouch API metrics
	ExternalAPICalls    *prometheus.CounterVec
	ExternalAPIDuration *prometheus.HistogramVec
	ExternalAPIFailures *prometheus.CounterVec
	EndpointDiscoveries *prometheus.CounterVec

	// Sink metrics
	SinkWrites *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// the binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		LoadRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltouch_load_runs_total",
				Help: "Total number of load runs",
			},
			[]string{"status", "stage"},
		),

		LoadRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "calltouch_load_run_duration_seconds",
				Help:    "Load run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),

		LoadRunsInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "calltouch_load_runs_in_progress",
				Help: "Number of load runs currently in progress",
			},
		),

		RowsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltouch_rows_processed_total",
				Help: "Total number of rows mapped for the sink",
			},
			[]string{"source", "status"},
		),

		RowsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltouch_rows_failed_total",
				Help: "Total number of records that failed mapping",
			},
			[]string{"source", "error_type"},
		),

		ExternalAPICalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_calls_total",
				Help: "Total number of external API calls",
			},
			[]string{"api", "status"},
		),

		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "external_api_duration_seconds",
				Help:    "External API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"api"},
		),

		ExternalAPIFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_failures_total",
				Help: "Total number of external API failures",
			},
			[]string{"api", "error_type"},
		),

		EndpointDiscoveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltouch_endpoint_discoveries_total",
				Help: "Endpoint discovery outcomes",
			},
			[]string{"outcome"},
		),

		SinkWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltouch_sink_writes_total",
				Help: "Batch writes to the sink by outcome",
			},
			[]string{"driver", "outcome"},
		),
	}
}

// HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Load run metrics
func (m *Metrics) RecordLoadRun(status, stage string, duration time.Duration) {
	m.LoadRunsTotal.WithLabelValues(status, stage).Inc()
	m.LoadRunDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (m *Metrics) RecordRows(source, status string, count int) {
	m.RowsProcessed.WithLabelValues(source, status).Add(float64(count))
}

func (m *Metrics) RecordRowFailure(source, errorType string) {
	m.RowsFailed.WithLabelValues(source, errorType).Inc()
}

// External API call metrics
func (m *Metrics) RecordExternalAPICall(api, status string, duration time.Duration) {
	m.ExternalAPICalls.WithLabelValues(api, status).Inc()
	m.ExternalAPIDuration.WithLabelValues(api).Observe(duration.Seconds())
}

// External API failure metrics
func (m *Metrics) RecordExternalAPIFailure(api, errorType string) {
	m.ExternalAPIFailures.WithLabelValues(api, errorType).Inc()
}

func (m *Metrics) RecordEndpointDiscovery(outcome string) {
	m.EndpointDiscoveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSinkWrite(driver, outcome string) {
	m.SinkWrites.WithLabelValues(driver, outcome).Inc()
}

func (m *Metrics) IncLoadRunsInProgress() {
	m.LoadRunsInProgress.Inc()
}

func (m *Metrics) DecLoadRunsInProgress() {
	m.LoadRunsInProgress.Dec()
}

// HTTP requests in flight counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// HTTP requests in flight counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
