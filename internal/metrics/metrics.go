// Package metrics exposes Prometheus collectors for the request queue and the
// remote executor. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes used as the "outcome" label.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the queue and retry collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	pending  prometheus.Gauge
	running  prometheus.Gauge
	requests *prometheus.CounterVec
	rejected prometheus.Counter
	retries  *prometheus.CounterVec
	wait     prometheus.Histogram
	duration prometheus.Histogram
	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. A nil reg uses a
// fresh private registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "genieq_queue_pending",
			Help: "Requests admitted but not yet claimed by a worker",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "genieq_queue_running",
			Help: "Requests currently being processed",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genieq_requests_total",
			Help: "Requests that reached a terminal state",
		}, []string{"outcome"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "genieq_requests_rejected_total",
			Help: "Submissions rejected because the queue was full or closed",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genieq_remote_retries_total",
			Help: "Rate-limited remote calls that were retried",
		}, []string{"step"}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "genieq_request_wait_seconds",
			Help:    "Time from submission to claim",
			Buckets: prometheus.DefBuckets,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "genieq_request_duration_seconds",
			Help:    "Time from claim to completion",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		gatherer: gatherer,
	}

	for _, c := range []prometheus.Collector{m.pending, m.running, m.requests, m.rejected, m.retries, m.wait, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry the collectors were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Enqueued() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

// Claimed moves a request from pending to running.
func (m *Metrics) Claimed(waited time.Duration) {
	if m == nil {
		return
	}
	m.pending.Dec()
	m.running.Inc()
	m.wait.Observe(waited.Seconds())
}

// Dropped records a pending request that left the queue without running.
func (m *Metrics) Dropped(outcome string) {
	if m == nil {
		return
	}
	m.pending.Dec()
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Finished(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.requests.WithLabelValues(outcome).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

// Retried counts one backoff on step.
func (m *Metrics) Retried(step string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(step).Inc()
}
