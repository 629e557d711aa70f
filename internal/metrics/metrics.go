// Package metrics holds the Prometheus collectors of the worker. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidqueue/internal/domain"
)

const namespace = "vidqueue"

type Metrics struct {
	registry *prometheus.Registry

	dispatched  prometheus.Counter
	finished    *prometheus.CounterVec
	refusals    *prometheus.CounterVec
	failOpen    *prometheus.CounterVec
	submissions *prometheus.CounterVec
	inflight    prometheus.Gauge
	pending     prometheus.Gauge
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Jobs claimed by the dispatch loop.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		refusals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_refusals_total",
			Help:      "Admission checks that held the queue back.",
		}, []string{"reason"}),
		failOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_fail_open_total",
			Help:      "Admission counts that failed and were treated as zero.",
		}, []string{"check"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_submissions_total",
			Help:      "Provider submissions by outcome.",
		}, []string{"outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_inflight",
			Help:      "Jobs currently registered with the status poller.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_jobs",
			Help:      "Pending jobs of the dispatch source at the last heartbeat.",
		}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.dispatched, m.finished, m.refusals, m.failOpen, m.submissions, m.inflight, m.pending,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Dispatched() {
	if m == nil {
		return
	}
	m.dispatched.Inc()
}

func (m *Metrics) Finished(status domain.JobStatus, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.finished.WithLabelValues(string(status)).Add(float64(n))
}

func (m *Metrics) Refused(reason string) {
	if m == nil {
		return
	}
	m.refusals.WithLabelValues(reason).Inc()
}

func (m *Metrics) FailOpen(check string) {
	if m == nil {
		return
	}
	m.failOpen.WithLabelValues(check).Inc()
}

func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(n))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// RefusalCounter exposes one refusal series for inspection.
func (m *Metrics) RefusalCounter(reason string) prometheus.Counter {
	return m.refusals.WithLabelValues(reason)
}

// FailOpenCounter exposes one fail-open series for inspection.
func (m *Metrics) FailOpenCounter(check string) prometheus.Counter {
	return m.failOpen.WithLabelValues(check)
}

// FinishedCounter exposes one terminal-status series for inspection.
func (m *Metrics) FinishedCounter(status domain.JobStatus) prometheus.Counter {
	return m.finished.WithLabelValues(string(status))
}

// SubmissionCounter exposes one submission outcome series for inspection.
func (m *Metrics) SubmissionCounter(outcome string) prometheus.Counter {
	return m.submissions.WithLabelValues(outcome)
}

// DispatchedCounter exposes the dispatch counter for inspection.
func (m *Metrics) DispatchedCounter() prometheus.Counter {
	return m.dispatched
}
