// Package metrics exposes Prometheus collectors for budget and job activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reelforge/reelforge/pkg/models"
)

// Metrics holds the reelforge collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	AdmissionsTotal   *prometheus.CounterVec
	BudgetUtilization prometheus.Gauge
	BudgetAlertLevel  prometheus.Gauge
	CostRecorded      *prometheus.CounterVec
	ReconcilesTotal   *prometheus.CounterVec
	MigrationsTotal   *prometheus.CounterVec
	CancelsTotal      *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AdmissionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reelforge",
			Subsystem: "budget",
			Name:      "admissions_total",
			Help:      "Admission decisions by outcome (allowed, budget_exceeded, insufficient_budget).",
		}, []string{"decision"}),
		BudgetUtilization: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "reelforge",
			Subsystem: "budget",
			Name:      "utilization_percent",
			Help:      "Total spend as a percentage of the budget limit at the last evaluation.",
		}),
		BudgetAlertLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "reelforge",
			Subsystem: "budget",
			Name:      "alert_level",
			Help:      "Alert level at the last evaluation (0 none, 1 warning, 2 critical, 3 emergency).",
		}),
		CostRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reelforge",
			Subsystem: "ledger",
			Name:      "cost_recorded_total",
			Help:      "Amount recorded in the cost ledger by service.",
		}, []string{"service"}),
		ReconcilesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reelforge",
			Subsystem: "jobs",
			Name:      "reconciles_total",
			Help:      "Reconciliation outcomes (cached, polled, provider_error, conflict).",
		}, []string{"result"}),
		MigrationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reelforge",
			Subsystem: "jobs",
			Name:      "migrations_total",
			Help:      "Asset migrations by result (success, fallback).",
		}, []string{"result"}),
		CancelsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reelforge",
			Subsystem: "jobs",
			Name:      "cancels_total",
			Help:      "Cancel requests by result.",
		}, []string{"result"}),
	}
}

// ObserveAdmission counts an admission decision.
func (m *Metrics) ObserveAdmission(decision string) {
	if m == nil {
		return
	}
	m.AdmissionsTotal.WithLabelValues(decision).Inc()
}

// ObserveBudget records the latest budget evaluation.
func (m *Metrics) ObserveBudget(s models.BudgetStatus) {
	if m == nil {
		return
	}
	m.BudgetUtilization.Set(s.UtilizationPercentage)
	m.BudgetAlertLevel.Set(float64(s.AlertLevel.Rank()))
}

// ObserveCost counts a recorded ledger amount.
func (m *Metrics) ObserveCost(svc models.Service, amount float64) {
	if m == nil {
		return
	}
	m.CostRecorded.WithLabelValues(string(svc)).Add(amount)
}

// ObserveReconcile counts a reconciliation outcome.
func (m *Metrics) ObserveReconcile(result string) {
	if m == nil {
		return
	}
	m.ReconcilesTotal.WithLabelValues(result).Inc()
}

// ObserveMigration counts a migration outcome.
func (m *Metrics) ObserveMigration(result string) {
	if m == nil {
		return
	}
	m.MigrationsTotal.WithLabelValues(result).Inc()
}

// ObserveCancel counts a cancel outcome.
func (m *Metrics) ObserveCancel(result string) {
	if m == nil {
		return
	}
	m.CancelsTotal.WithLabelValues(result).Inc()
}
