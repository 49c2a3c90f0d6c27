// Package metrics exposes Keeper's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keeper"

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	fetchFailures    *prometheus.CounterVec
	fetchTruncated   *prometheus.CounterVec
	findings         *prometheus.CounterVec
	alertsDispatched *prometheus.CounterVec
	reports          *prometheus.CounterVec
}

// New creates the collectors and registers them with Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"method", "route"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "fetch_failures_total",
			Help:      "Dataset fetches that failed and were replaced by an empty set.",
		}, []string{"dataset"}),
		fetchTruncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "fetch_truncated_total",
			Help:      "Dataset fetches that hit the row limit.",
		}, []string{"dataset"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "findings_total",
			Help:      "Suspicious-activity findings produced, by type and severity.",
		}, []string{"type", "severity"}),
		alertsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "alerts_dispatched_total",
			Help:      "Security alerts recorded by the alert worker.",
		}, []string{"severity"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "generated_total",
			Help:      "Reports generated, by report type and format.",
		}, []string{"report", "format"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.fetchFailures,
		m.fetchTruncated,
		m.findings,
		m.alertsDispatched,
		m.reports,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// FetchFailed counts a dataset fetch that degraded to empty.
func (m *Metrics) FetchFailed(dataset string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(dataset).Inc()
}

// FetchTruncated counts a dataset fetch that returned the full row limit.
func (m *Metrics) FetchTruncated(dataset string) {
	if m == nil {
		return
	}
	m.fetchTruncated.WithLabelValues(dataset).Inc()
}

// Finding counts a produced finding.
func (m *Metrics) Finding(findingType, severity string) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(findingType, severity).Inc()
}

// AlertDispatched counts an alert recorded by the worker.
func (m *Metrics) AlertDispatched(severity string) {
	if m == nil {
		return
	}
	m.alertsDispatched.WithLabelValues(severity).Inc()
}

// ReportGenerated counts a generated report.
func (m *Metrics) ReportGenerated(report, format string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(report, format).Inc()
}
