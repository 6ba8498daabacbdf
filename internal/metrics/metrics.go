// Package metrics provides Prometheus metrics for the assay workflow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkflowMetrics contains Prometheus metrics for session, merge and view
// operations. A nil *WorkflowMetrics is valid and records nothing.
type WorkflowMetrics struct {
	registry *prometheus.Registry

	sessionsCreated prometheus.Counter
	sessionsCleared prometheus.Counter
	uploadsTotal    *prometheus.CounterVec
	uploadBytes     prometheus.Counter

	mergeCacheTotal *prometheus.CounterVec
	mergeDuration   prometheus.Histogram
	mergeRows       prometheus.Histogram

	matchesTotal *prometheus.CounterVec
	viewsTotal   *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewWorkflowMetrics creates and registers workflow metrics.
func NewWorkflowMetrics(registry *prometheus.Registry) (*WorkflowMetrics, error) {
	m := &WorkflowMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *WorkflowMetrics) initMetrics() {
	m.sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assay_sessions_created_total",
		Help: "Total number of workflow sessions created",
	})
	m.sessionsCleared = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assay_sessions_cleared_total",
		Help: "Total number of workflow sessions cleared",
	})
	m.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assay_uploads_total",
			Help: "Total number of file uploads by format and outcome",
		},
		[]string{"format", "status"},
	)
	m.uploadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assay_upload_bytes_total",
		Help: "Total bytes accepted in uploads",
	})

	m.mergeCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assay_merge_cache_total",
			Help: "Merge requests by cache result (hit, miss, forced)",
		},
		[]string{"result"},
	)
	m.mergeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "assay_merge_duration_seconds",
		Help:    "Time taken to compute a merge",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	})
	m.mergeRows = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "assay_merge_rows",
		Help:    "Rows in computed merge tables",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	m.matchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assay_matches_total",
			Help: "Rows matched by tier",
		},
		[]string{"method"},
	)
	m.viewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assay_views_total",
			Help: "Derived views generated by kind",
		},
		[]string{"view"},
	)
	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assay_errors_total",
			Help: "Workflow errors by operation and kind",
		},
		[]string{"operation", "kind"},
	)

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assay_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)
	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assay_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	m.collectors = []prometheus.Collector{
		m.sessionsCreated,
		m.sessionsCleared,
		m.uploadsTotal,
		m.uploadBytes,
		m.mergeCacheTotal,
		m.mergeDuration,
		m.mergeRows,
		m.matchesTotal,
		m.viewsTotal,
		m.errorsTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	}
}

// Describe implements the Collector interface
func (m *WorkflowMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *WorkflowMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordSessionCreated counts a new session.
func (m *WorkflowMetrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// RecordSessionCleared counts a cleared session.
func (m *WorkflowMetrics) RecordSessionCleared() {
	if m == nil {
		return
	}
	m.sessionsCleared.Inc()
}

// RecordUpload counts an upload attempt. Bytes are only added on success.
func (m *WorkflowMetrics) RecordUpload(format, status string, bytes int) {
	if m == nil {
		return
	}
	if format == "" {
		format = "unknown"
	}
	m.uploadsTotal.WithLabelValues(format, status).Inc()
	if status == "success" {
		m.uploadBytes.Add(float64(bytes))
	}
}

// RecordMergeCache counts a merge request by cache outcome.
func (m *WorkflowMetrics) RecordMergeCache(result string) {
	if m == nil {
		return
	}
	m.mergeCacheTotal.WithLabelValues(result).Inc()
}

// RecordMergeComputed records the cost and size of a computed merge.
func (m *WorkflowMetrics) RecordMergeComputed(d time.Duration, rows int) {
	if m == nil {
		return
	}
	m.mergeDuration.Observe(d.Seconds())
	m.mergeRows.Observe(float64(rows))
}

// RecordMatch counts one row match by method.
func (m *WorkflowMetrics) RecordMatch(method string) {
	if m == nil {
		return
	}
	m.matchesTotal.WithLabelValues(method).Inc()
}

// RecordView counts a generated derived view.
func (m *WorkflowMetrics) RecordView(view string) {
	if m == nil {
		return
	}
	m.viewsTotal.WithLabelValues(view).Inc()
}

// RecordError counts a failed operation by error kind.
func (m *WorkflowMetrics) RecordError(operation, kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(operation, kind).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func (m *WorkflowMetrics) RecordHTTPRequest(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, method, status).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Registry returns the registry the metrics are registered with.
func (m *WorkflowMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
