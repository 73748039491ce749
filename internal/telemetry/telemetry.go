// Package telemetry exposes Prometheus metrics for imports and HTTP traffic.
package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"metricboard/metric"
)

type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomePartial      Outcome = "partial"
	OutcomeHeaderError  Outcome = "header_error"
	OutcomeUnreadable   Outcome = "unreadable"
	OutcomeStorageFault Outcome = "storage_fault"
)

const defaultNamespace = "metricboard"

// ImportMetrics records import outcomes. A nil *ImportMetrics is valid and
// records nothing.
type ImportMetrics struct {
	imports  *prometheus.CounterVec
	rows     *prometheus.CounterVec
	duration prometheus.Histogram
}

// HTTPMetrics records request counts and latency per route pattern.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type options struct {
	namespace string
	buckets   []float64
}

type Option func(*options)

func WithNamespace(namespace string) Option {
	return func(o *options) {
		if namespace != "" {
			o.namespace = namespace
		}
	}
}

func WithHistogramBuckets(buckets []float64) Option {
	return func(o *options) {
		if len(buckets) > 0 {
			o.buckets = buckets
		}
	}
}

func resolve(opts []Option) options {
	o := options{namespace: defaultNamespace, buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewImportMetrics(reg prometheus.Registerer, opts ...Option) (*ImportMetrics, error) {
	o := resolve(opts)
	m := &ImportMetrics{
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Import attempts by outcome.",
		}, []string{"outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Imported spreadsheet rows by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Wall time of one import.",
			Buckets:   o.buckets,
		}),
	}
	for _, collector := range []prometheus.Collector{m.imports, m.rows, m.duration} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register import metrics: %w", err)
		}
	}
	return m, nil
}

func (m *ImportMetrics) ObserveImport(outcome Outcome, report metric.Report, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.imports.WithLabelValues(string(outcome)).Inc()
	m.rows.WithLabelValues("created").Add(float64(report.Created))
	m.rows.WithLabelValues("updated").Add(float64(report.Updated))
	m.rows.WithLabelValues("rejected").Add(float64(len(report.Errors)))
	m.duration.Observe(elapsed.Seconds())
}

func NewHTTPMetrics(reg prometheus.Registerer, opts ...Option) (*HTTPMetrics, error) {
	o := resolve(opts)
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   o.buckets,
		}, []string{"route"}),
	}
	for _, collector := range []prometheus.Collector{m.requests, m.latency} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register http metrics: %w", err)
		}
	}
	return m, nil
}

func (m *HTTPMetrics) Observe(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *StatusRecorder) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}
