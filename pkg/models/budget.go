package models

import "time"

// AlertLevel is the budget tier derived from utilization.
type AlertLevel string

const (
	AlertNone      AlertLevel = "none"
	AlertWarning   AlertLevel = "warning"
	AlertCritical  AlertLevel = "critical"
	AlertEmergency AlertLevel = "emergency"
)

// Rank orders alert levels from none (0) to emergency (3).
func (a AlertLevel) Rank() int {
	switch a {
	case AlertNone:
		return 0
	case AlertWarning:
		return 1
	case AlertCritical:
		return 2
	case AlertEmergency:
		return 3
	default:
		return -1
	}
}

// Thresholds are utilization percentages at which each alert level begins.
type Thresholds struct {
	Warning   float64 `json:"warning" yaml:"warning" env:"WARNING"`
	Critical  float64 `json:"critical" yaml:"critical" env:"CRITICAL"`
	Emergency float64 `json:"emergency" yaml:"emergency" env:"EMERGENCY"`
}

// DefaultThresholds returns the 50/75/90 policy.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 50, Critical: 75, Emergency: 90}
}

// BudgetStatus is a point-in-time evaluation of spend against the budget limit.
type BudgetStatus struct {
	TotalSpent            float64             `json:"total_spent"`
	DailySpent            float64             `json:"daily_spent"`
	HourlySpent           float64             `json:"hourly_spent"`
	BudgetLimit           float64             `json:"budget_limit"`
	RemainingBudget       float64             `json:"remaining_budget"`
	UtilizationPercentage float64             `json:"utilization_percentage"`
	AlertLevel            AlertLevel          `json:"alert_level"`
	CanProceed            bool                `json:"can_proceed"`
	ServiceBreakdown      map[Service]float64 `json:"service_breakdown"`
	EvaluatedAt           time.Time           `json:"evaluated_at"`
}

// Admission reasons.
const (
	ReasonBudgetExceeded     = "budget_exceeded"
	ReasonInsufficientBudget = "insufficient_budget"
)

// Admission is the outcome of an admission check for a billable operation.
type Admission struct {
	Allowed       bool         `json:"allowed"`
	Reason        string       `json:"reason,omitempty"`
	EstimatedCost float64      `json:"estimated_cost"`
	Status        BudgetStatus `json:"status"`
}
