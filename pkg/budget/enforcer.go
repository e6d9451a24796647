package budget

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/reelforge/reelforge/pkg/clock"
	"github.com/reelforge/reelforge/pkg/ledger"
	"github.com/reelforge/reelforge/pkg/logging"
	"github.com/reelforge/reelforge/pkg/metrics"
	"github.com/reelforge/reelforge/pkg/models"
)

var (
	// ErrBudgetExceeded is returned when the emergency threshold has been
	// reached and no new billable work may start.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInsufficientBudget is returned when a single request is larger than
	// the remaining budget.
	ErrInsufficientBudget = errors.New("insufficient budget for request")
)

// Evaluator computes BudgetStatus from the cost ledger.
type Evaluator struct {
	limit      float64
	thresholds models.Thresholds
	ledger     ledger.Ledger
	clock      clock.Clock
	metrics    *metrics.Metrics
}

// NewEvaluator creates an Evaluator for a fixed limit and thresholds.
func NewEvaluator(limit float64, thresholds models.Thresholds, l ledger.Ledger, c clock.Clock, m *metrics.Metrics) *Evaluator {
	return &Evaluator{
		limit:      limit,
		thresholds: thresholds,
		ledger:     l,
		clock:      clock.OrReal(c),
		metrics:    m,
	}
}

// AlertLevelFor maps a utilization percentage to an alert level.
func AlertLevelFor(pct float64, th models.Thresholds) models.AlertLevel {
	switch {
	case pct >= th.Emergency:
		return models.AlertEmergency
	case pct >= th.Critical:
		return models.AlertCritical
	case pct >= th.Warning:
		return models.AlertWarning
	default:
		return models.AlertNone
	}
}

// CanProceed reports whether new billable work is accepted at level.
// Only emergency stops admissions; critical is a soft signal.
func CanProceed(level models.AlertLevel) bool {
	switch level {
	case models.AlertNone, models.AlertWarning, models.AlertCritical:
		return true
	case models.AlertEmergency:
		return false
	}
	return false
}

// Status aggregates the ledger into a BudgetStatus.
func (e *Evaluator) Status(ctx context.Context) (models.BudgetStatus, error) {
	now := e.clock.Now()

	sum, err := e.ledger.Summarize(ctx)
	if err != nil {
		return models.BudgetStatus{}, fmt.Errorf("budget status: %w", err)
	}
	total := sum.Total

	pct := 0.0
	if e.limit > 0 {
		pct = total / e.limit * 100
	}
	level := AlertLevelFor(pct, e.thresholds)

	status := models.BudgetStatus{
		TotalSpent:            total,
		DailySpent:            sum.Daily,
		HourlySpent:           sum.Hourly,
		BudgetLimit:           e.limit,
		RemainingBudget:       e.limit - total,
		UtilizationPercentage: pct,
		AlertLevel:            level,
		CanProceed:            CanProceed(level),
		ServiceBreakdown:      sum.ByService,
		EvaluatedAt:           now,
	}
	e.metrics.ObserveBudget(status)
	return status, nil
}

// Gate decides whether a billable operation may start. It never writes to
// the ledger: callers record cost once the provider confirms the operation.
//
// Concurrent checks each read a status computed before the others' ledger
// writes land, so a burst can pass admission together and overshoot the
// emergency line. That soft limit is accepted.
type Gate struct {
	evaluator *Evaluator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewGate creates an admission Gate.
func NewGate(e *Evaluator, m *metrics.Metrics, logger *zap.Logger) *Gate {
	return &Gate{evaluator: e, metrics: m, logger: logging.OrNop(logger)}
}

// Evaluator returns the underlying evaluator.
func (g *Gate) Evaluator() *Evaluator {
	return g.evaluator
}

// Check evaluates an estimated cost. A rejected admission is returned along
// with ErrBudgetExceeded or ErrInsufficientBudget; any other error means the
// ledger could not be read and the request must be aborted.
func (g *Gate) Check(ctx context.Context, estimatedCost float64) (models.Admission, error) {
	status, err := g.evaluator.Status(ctx)
	if err != nil {
		return models.Admission{}, fmt.Errorf("admission check: %w", err)
	}

	adm := models.Admission{EstimatedCost: estimatedCost, Status: status}

	if !status.CanProceed {
		adm.Reason = models.ReasonBudgetExceeded
		g.metrics.ObserveAdmission(adm.Reason)
		g.logger.Warn("admission rejected: budget frozen",
			zap.Float64("utilization", status.UtilizationPercentage),
			zap.String("alert_level", string(status.AlertLevel)),
			zap.Float64("estimated_cost", estimatedCost))
		return adm, ErrBudgetExceeded
	}

	if estimatedCost > status.RemainingBudget {
		adm.Reason = models.ReasonInsufficientBudget
		g.metrics.ObserveAdmission(adm.Reason)
		g.logger.Info("admission rejected: request exceeds remaining budget",
			zap.Float64("remaining", status.RemainingBudget),
			zap.Float64("estimated_cost", estimatedCost))
		return adm, ErrInsufficientBudget
	}

	adm.Allowed = true
	g.metrics.ObserveAdmission("allowed")
	if status.AlertLevel != models.AlertNone {
		g.logger.Info("admission allowed under budget alert",
			zap.String("alert_level", string(status.AlertLevel)),
			zap.Float64("utilization", status.UtilizationPercentage))
	}
	return adm, nil
}
