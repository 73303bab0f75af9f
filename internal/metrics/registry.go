package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the subsystem's Prometheus collectors. One instance is
// created at startup and shared by every component.
type Registry struct {
	prom *prometheus.Registry

	// Decision path
	DecisionsTotal     *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec

	// Trust state
	ViolationsTotal *prometheus.CounterVec
	ReputationCAS   prometheus.Counter

	// Detection / response
	AnomaliesTotal     *prometheus.CounterVec
	IncidentsTotal     *prometheus.CounterVec
	SessionsTerminated prometheus.Counter
	IsolationFailures  prometheus.Counter

	// Audit sink
	AuditPublished prometheus.Counter
	AuditDropped   prometheus.Counter
}

// NewRegistry builds and registers all collectors.
func NewRegistry() *Registry {
	r := &Registry{prom: prometheus.NewRegistry()}

	r.DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_gateway",
		Name:      "decisions_total",
		Help:      "Access decisions by pipeline stage and outcome.",
	}, []string{"stage", "outcome", "reason"})

	r.EvaluationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "access_gateway",
		Name:      "evaluation_duration_seconds",
		Help:      "End-to-end evaluation latency per pipeline stage.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .2, .5, 1},
	}, []string{"stage"})

	r.ViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_gateway",
		Name:      "violations_total",
		Help:      "Policy violations by type.",
	}, []string{"violation_type"})

	r.ReputationCAS = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "access_gateway",
		Name:      "reputation_cas_retries_total",
		Help:      "Optimistic retry count on reputation updates.",
	})

	r.AnomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_gateway",
		Name:      "anomalies_total",
		Help:      "Detected behavioral anomalies by pattern.",
	}, []string{"pattern"})

	r.IncidentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_gateway",
		Name:      "incidents_total",
		Help:      "Security incidents by severity.",
	}, []string{"severity"})

	r.SessionsTerminated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "access_gateway",
		Name:      "sessions_terminated_total",
		Help:      "Sessions terminated by isolation or revocation.",
	})

	r.IsolationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "access_gateway",
		Name:      "isolation_failures_total",
		Help:      "Isolation attempts that failed and were re-raised as incidents.",
	})

	r.AuditPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "access_gateway",
		Name:      "audit_records_published_total",
		Help:      "Audit records delivered to the sink.",
	})

	r.AuditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "access_gateway",
		Name:      "audit_records_dropped_total",
		Help:      "Audit records dropped because the outbound queue was full.",
	})

	r.prom.MustRegister(
		r.DecisionsTotal,
		r.EvaluationDuration,
		r.ViolationsTotal,
		r.ReputationCAS,
		r.AnomaliesTotal,
		r.IncidentsTotal,
		r.SessionsTerminated,
		r.IsolationFailures,
		r.AuditPublished,
		r.AuditDropped,
	)

	return r
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}
