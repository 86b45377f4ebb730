// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	registry *prometheus.Registry

	submissions         *prometheus.CounterVec
	jobsFinished        *prometheus.CounterVec
	jobDuration         prometheus.Histogram
	rowsPopulated       prometheus.Counter
	extentQueries       *prometheus.CounterVec
	extentDuration      *prometheus.HistogramVec
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var _ output.MetricsCollector = (*Collector)(nil)

// NewCollector creates a collector registering into its own registry,
// together with the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "dataspatial"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Georeference job submissions by outcome",
			},
			[]string{"outcome"},
		),

		jobsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Georeference jobs reaching a terminal state",
			},
			[]string{"state"},
		),

		jobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Georeference job run time in seconds",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
		),

		rowsPopulated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_populated_total",
				Help:      "Rows whose geometry columns were written",
			},
		),

		extentQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extent_queries_total",
				Help:      "Extent queries by backend",
			},
			[]string{"backend", "status"},
		),

		extentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extent_query_duration_seconds",
				Help:      "Extent query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),

		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// IncSubmissions implements output.MetricsCollector.
func (c *Collector) IncSubmissions(outcome string) {
	c.submissions.WithLabelValues(outcome).Inc()
}

// IncJobsFinished implements output.MetricsCollector.
func (c *Collector) IncJobsFinished(state string) {
	c.jobsFinished.WithLabelValues(state).Inc()
}

// ObserveJobDuration implements output.MetricsCollector.
func (c *Collector) ObserveJobDuration(duration time.Duration) {
	c.jobDuration.Observe(duration.Seconds())
}

// AddRowsPopulated implements output.MetricsCollector.
func (c *Collector) AddRowsPopulated(rows int) {
	if rows > 0 {
		c.rowsPopulated.Add(float64(rows))
	}
}

// IncExtentQueries implements output.MetricsCollector.
func (c *Collector) IncExtentQueries(backend string, success bool) {
	c.extentQueries.WithLabelValues(backend, status(success)).Inc()
}

// ObserveExtentDuration implements output.MetricsCollector.
func (c *Collector) ObserveExtentDuration(backend string, duration time.Duration) {
	c.extentDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// IncStorageOperations implements output.MetricsCollector.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, status(success)).Inc()
}

// ObserveStorageDuration implements output.MetricsCollector.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware records request counts and durations, labelled with the
// matched route template so resource ids do not become label values.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routeTemplate(r)
		c.httpRequestsTotal.WithLabelValues(r.Method, path, statusClass(wrapped.statusCode)).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// statusClass converts an HTTP status code to its class, e.g. "4xx".
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
