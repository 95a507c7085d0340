// Package metrics provides Prometheus metrics for the inactivity agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	ActivityTotal     *prometheus.CounterVec
	EvaluationsTotal  *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	InactiveMembers   *prometheus.GaugeVec
	BatchesTotal      *prometheus.CounterVec
	PersistErrors     *prometheus.CounterVec
	CommandsTotal     *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	TrackedActivities prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ActivityTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inactivity_activity_recorded_total",
				Help: "Activity events recorded by kind.",
			},
			[]string{"kind"},
		),
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inactivity_evaluations_total",
				Help: "Evaluation runs by trigger and result.",
			},
			[]string{"trigger", "result"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inactivity_run_duration_seconds",
				Help:    "Evaluation run duration by trigger.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		InactiveMembers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "inactivity_inactive_members",
				Help: "Inactive members found by the last run per workspace.",
			},
			[]string{"space"},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inactivity_batches_total",
				Help: "Notification batches by delivery result.",
			},
			[]string{"result"},
		),
		PersistErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inactivity_persist_errors_total",
				Help: "Failed document writes by store.",
			},
			[]string{"store"},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inactivity_commands_total",
				Help: "Operator commands by name and status.",
			},
			[]string{"command", "status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inactivity_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		TrackedActivities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "inactivity_tracked_records",
				Help: "Number of (member, workspace) activity records held.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.ActivityTotal)
	reg.MustRegister(m.EvaluationsTotal)
	reg.MustRegister(m.RunDuration)
	reg.MustRegister(m.InactiveMembers)
	reg.MustRegister(m.BatchesTotal)
	reg.MustRegister(m.PersistErrors)
	reg.MustRegister(m.CommandsTotal)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.TrackedActivities)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordActivity increments the activity counter.
func (m *Metrics) RecordActivity(kind string) {
	m.ActivityTotal.WithLabelValues(kind).Inc()
}

// RecordEvaluation counts a finished run and its duration.
func (m *Metrics) RecordEvaluation(trigger, result string, seconds float64) {
	m.EvaluationsTotal.WithLabelValues(trigger, result).Inc()
	m.RunDuration.WithLabelValues(trigger).Observe(seconds)
}

// SetInactive sets the inactive gauge for a workspace.
func (m *Metrics) SetInactive(space string, count int) {
	m.InactiveMembers.WithLabelValues(space).Set(float64(count))
}

// RecordBatch counts a delivered or failed batch.
func (m *Metrics) RecordBatch(result string) {
	m.BatchesTotal.WithLabelValues(result).Inc()
}

// RecordPersistError counts a failed document write.
func (m *Metrics) RecordPersistError(store string) {
	m.PersistErrors.WithLabelValues(store).Inc()
}

// RecordCommand counts an operator command.
func (m *Metrics) RecordCommand(command, status string) {
	m.CommandsTotal.WithLabelValues(command, status).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// SetTrackedRecords sets the activity record gauge.
func (m *Metrics) SetTrackedRecords(n int) {
	m.TrackedActivities.Set(float64(n))
}
