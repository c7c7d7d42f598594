// Package metrics exposes Prometheus collectors for dispatches, jobs and
// sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schedbot/internal/jobs"
)

const Namespace = "schedbot"

type Metrics struct {
	gatherer prometheus.Gatherer

	dispatchRuns     *prometheus.CounterVec
	dispatchOutcomes *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	contentFailures  *prometheus.CounterVec
	jobs             *prometheus.GaugeVec
	sessions         *prometheus.GaugeVec
	commands         *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWith(reg, reg)
}

func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: g,
		dispatchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dispatch_runs_total",
			Help:      "Job executions by result (ok, partial, failed, no_content)",
		}, []string{"tenant", "result"}),
		dispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dispatch_messages_total",
			Help:      "Per-recipient send attempts by status",
		}, []string{"tenant", "status"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of a job execution across all recipients",
			Buckets:   []float64{.05, .1, .5, 1, 2, 5, 10, 30, 60},
		}, []string{"tenant"}),
		contentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "content_failures_total",
			Help:      "Failed computed-message generations",
		}, []string{"producer"}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "scheduled_jobs",
			Help:      "Scheduled jobs by state",
		}, []string{"tenant", "state"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions",
			Help:      "Sessions by lifecycle state",
		}, []string{"state"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "commands_total",
			Help:      "Mutating operator actions by outcome",
		}, []string{"action", "outcome"}),
	}
	reg.MustRegister(
		m.dispatchRuns,
		m.dispatchOutcomes,
		m.dispatchDuration,
		m.contentFailures,
		m.jobs,
		m.sessions,
		m.commands,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDispatch(rep jobs.DispatchReport) {
	ok, failed := rep.Delivered(), rep.Failed()
	result := "ok"
	switch {
	case rep.ContentErr != "":
		result = "no_content"
	case failed > 0 && ok == 0:
		result = "failed"
	case failed > 0:
		result = "partial"
	}
	m.dispatchRuns.WithLabelValues(rep.Tenant, result).Inc()
	m.dispatchOutcomes.WithLabelValues(rep.Tenant, "delivered").Add(float64(ok))
	m.dispatchOutcomes.WithLabelValues(rep.Tenant, "failed").Add(float64(failed))
	m.dispatchDuration.WithLabelValues(rep.Tenant).Observe(rep.Took().Seconds())
}

func (m *Metrics) ContentFailure(producer string, _ error) {
	m.contentFailures.WithLabelValues(producer).Inc()
}

func (m *Metrics) SetJobs(tenant string, s jobs.Summary) {
	m.jobs.WithLabelValues(tenant, "active").Set(float64(s.Active))
	m.jobs.WithLabelValues(tenant, "paused").Set(float64(s.Paused))
}

// ForgetTenant drops per-tenant series of a destroyed session.
func (m *Metrics) ForgetTenant(tenant string) {
	m.jobs.DeletePartialMatch(prometheus.Labels{"tenant": tenant})
}

// SetSessions replaces the sessions gauge with counts; missing states read 0.
func (m *Metrics) SetSessions(counts map[string]int) {
	m.sessions.Reset()
	for state, n := range counts {
		m.sessions.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) Action(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.commands.WithLabelValues(action, outcome).Inc()
}
