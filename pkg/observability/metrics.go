package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Namespace prefixes every metric name (default: catalog_sdk)
	Namespace string `json:"namespace" yaml:"namespace"`
	// HistogramBuckets are latency buckets in milliseconds
	HistogramBuckets []float64 `json:"histogram_buckets,omitempty" yaml:"histogram_buckets,omitempty"`
	// ConstLabels are added to every metric
	ConstLabels map[string]string `json:"const_labels,omitempty" yaml:"const_labels,omitempty"`

	// Registerer receives the collectors; a private registry is created when nil
	Registerer prometheus.Registerer `json:"-" yaml:"-"`
}

// Telemetry delivery outcomes
const (
	TelemetryDelivered = "delivered"
	TelemetryFailed    = "failed"
	TelemetryDropped   = "dropped"
	TelemetryRejected  = "circuit_open"
)

// Metrics records SDK activity in Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry
	gatherer prometheus.Gatherer

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	toolTotal       *prometheus.CounterVec
	telemetryTotal  *prometheus.CounterVec
	tokenTotal      *prometheus.CounterVec
	streamEvents    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "catalog_sdk"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}
	}

	m := &Metrics{}
	registerer := config.Registerer
	if registerer == nil {
		m.registry = prometheus.NewRegistry()
		registerer = m.registry
		m.gatherer = m.registry
	} else if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	labels := prometheus.Labels(config.ConstLabels)

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   config.Namespace,
		Name:        "request_duration_milliseconds",
		Help:        "Duration of catalog HTTP requests",
		Buckets:     config.HistogramBuckets,
		ConstLabels: labels,
	}, []string{"operation", "status"})
	m.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "requests_total",
		Help:        "Catalog HTTP requests by operation and status",
		ConstLabels: labels,
	}, []string{"operation", "status"})
	m.toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   config.Namespace,
		Name:        "tool_call_duration_milliseconds",
		Help:        "Duration of tracked tool calls",
		Buckets:     config.HistogramBuckets,
		ConstLabels: labels,
	}, []string{"tool", "status"})
	m.toolTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "tool_calls_total",
		Help:        "Tracked tool calls by tool and outcome",
		ConstLabels: labels,
	}, []string{"tool", "status"})
	m.telemetryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "telemetry_events_total",
		Help:        "Tool events by delivery outcome",
		ConstLabels: labels,
	}, []string{"outcome"})
	m.tokenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "token_generations_total",
		Help:        "Access token generations by auth method and outcome",
		ConstLabels: labels,
	}, []string{"method", "outcome"})
	m.streamEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "stream_frames_total",
		Help:        "Event stream frames by decode outcome",
		ConstLabels: labels,
	}, []string{"outcome"})

	for _, c := range []prometheus.Collector{
		m.requestDuration, m.requestTotal,
		m.toolDuration, m.toolTotal,
		m.telemetryTotal, m.tokenTotal, m.streamEvents,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// StatusLabel renders an HTTP status for the status label; 0 means no response
func StatusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}

// RecordRequest records one catalog HTTP request
func (m *Metrics) RecordRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := StatusLabel(status)
	m.requestDuration.WithLabelValues(operation, label).Observe(float64(duration.Milliseconds()))
	m.requestTotal.WithLabelValues(operation, label).Inc()
}

// RecordToolCall records one tracked tool call
func (m *Metrics) RecordToolCall(tool string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.toolDuration.WithLabelValues(tool, status).Observe(float64(duration.Milliseconds()))
	m.toolTotal.WithLabelValues(tool, status).Inc()
}

// RecordTelemetry records the fate of one tool event
func (m *Metrics) RecordTelemetry(outcome string) {
	if m == nil {
		return
	}
	m.telemetryTotal.WithLabelValues(outcome).Inc()
}

// RecordTokenGeneration records one token exchange
func (m *Metrics) RecordTokenGeneration(method string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.tokenTotal.WithLabelValues(method, outcome).Inc()
}

// RecordStreamFrame records one data frame as "decoded" or "skipped"
func (m *Metrics) RecordStreamFrame(outcome string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(outcome).Inc()
}

// Gatherer exposes the registry the collectors live in, or nil if the
// configured Registerer cannot be gathered
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.gatherer
}

// Handler serves the collected metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
