// Package metrics exposes Prometheus collectors for the classification pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements the classifier, rule engine and queue observers
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	classifyLatency *prometheus.HistogramVec
	rulesEvaluated  *prometheus.CounterVec
	actionsApplied  *prometheus.CounterVec
	jobLatency      *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	ingested        *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg registers nothing, which
// keeps tests and one-shot commands free of global state.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sortana_cache_lookups_total",
				Help: "Classification cache lookups by result",
			},
			[]string{"result"}, // hit, miss
		),
		classifyLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sortana_classify_request_duration_ms",
				Help:    "Classification request latency in milliseconds",
				Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~50s
			},
			[]string{"outcome"},
		),
		rulesEvaluated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sortana_rules_evaluated_total",
				Help: "Rules classified against a message",
			},
			[]string{"matched"},
		),
		actionsApplied: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sortana_actions_applied_total",
				Help: "Rule actions applied by kind and status",
			},
			[]string{"kind", "status"}, // status: success, failed
		),
		jobLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sortana_job_duration_ms",
				Help:    "Per-message processing time in milliseconds",
				Buckets: prometheus.ExponentialBuckets(10, 2, 14), // 10ms to ~80s
			},
			[]string{"status"},
		),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "sortana_queue_depth",
			Help: "Messages waiting to be processed",
		}),
		ingested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sortana_ingested_messages_total",
				Help: "Messages received from ingest sources",
			},
			[]string{"source", "status"},
		),
		httpLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sortana_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"method", "path", "status"},
		),
	}
}

// CacheLookup records a cache hit or miss
func (m *Metrics) CacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// Request records one classification request
func (m *Metrics) Request(outcome string, elapsed time.Duration) {
	m.classifyLatency.WithLabelValues(outcome).Observe(float64(elapsed.Milliseconds()))
}

// RuleEvaluated records a classified rule
func (m *Metrics) RuleEvaluated(matched bool) {
	m.rulesEvaluated.WithLabelValues(strconv.FormatBool(matched)).Inc()
}

// ActionApplied records an executed action
func (m *Metrics) ActionApplied(kind string, err error) {
	m.actionsApplied.WithLabelValues(kind, status(err)).Inc()
}

// JobFinished records a processed queue job
func (m *Metrics) JobFinished(elapsed time.Duration, err error) {
	m.jobLatency.WithLabelValues(status(err)).Observe(float64(elapsed.Milliseconds()))
}

// Depth records the queue backlog
func (m *Metrics) Depth(n int) {
	m.queueDepth.Set(float64(n))
}

// Ingested records a message received from source
func (m *Metrics) Ingested(source string, err error) {
	m.ingested.WithLabelValues(source, status(err)).Inc()
}

// HTTPRequest records a served API request
func (m *Metrics) HTTPRequest(method, path string, code int, elapsed time.Duration) {
	m.httpLatency.WithLabelValues(method, path, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
