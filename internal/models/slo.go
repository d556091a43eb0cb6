package models

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// SLOStatus is derived from the SLO's primitive fields on every read.
type SLOStatus string

const (
	SLOHealthy  SLOStatus = "healthy"
	SLOAtRisk   SLOStatus = "at_risk"
	SLOBreached SLOStatus = "breached"
)

// AtRiskBurnRate is the burn rate above which a non-breached SLO is at risk.
const AtRiskBurnRate = 0.8

// SLODirection says which side of the target is safe.
type SLODirection string

const (
	// DirectionAtLeast means the value must stay at or above target (availability, accuracy).
	DirectionAtLeast SLODirection = "at_least"
	// DirectionAtMost means the value must stay at or below target (latency, error rate).
	DirectionAtMost SLODirection = "at_most"
)

// Valid reports whether d is a known direction.
func (d SLODirection) Valid() bool {
	return d == DirectionAtLeast || d == DirectionAtMost
}

// BurnSample is one historical recompute of an SLO.
type BurnSample struct {
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
	CurrentValue float64   `json:"current_value" bson:"current_value"`
	BurnRate     float64   `json:"burn_rate" bson:"burn_rate"`
	Target       float64   `json:"target" bson:"target"`
}

// SLO tracks a service-level objective and its error budget.
type SLO struct {
	ID               string       `json:"id" bson:"_id"`
	ServiceID        string       `json:"service_id" bson:"service_id"`
	ServiceName      string       `json:"service_name" bson:"service_name"`
	Metric           string       `json:"metric" bson:"metric"`
	MetricUnit       string       `json:"metric_unit" bson:"metric_unit"`
	Direction        SLODirection `json:"direction" bson:"direction"`
	Target           float64      `json:"target" bson:"target"`
	CurrentValue     float64      `json:"current_value" bson:"current_value"`
	EvaluationWindow string       `json:"evaluation_window" bson:"evaluation_window"`
	CurrentBurnRate  float64      `json:"current_burn_rate" bson:"current_burn_rate"`
	BurnHistory      []BurnSample `json:"burn_history" bson:"burn_history"`
	LinkedAlerts     []string     `json:"linked_alerts" bson:"linked_alerts"`
	LinkedIncidents  []string     `json:"linked_incidents" bson:"linked_incidents"`
	CreatedAt        time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" bson:"updated_at"`
}

// ErrorBudget is the complement of the target in its natural scale: percentages against 100,
// ratios against 1. Targets in absolute units carry a 100-point percentage budget.
func (s *SLO) ErrorBudget() float64 {
	return ErrorBudgetFor(s.Target, s.MetricUnit)
}

// ErrorBudgetFor computes the error budget for a target expressed in unit.
func ErrorBudgetFor(target float64, unit string) float64 {
	switch {
	case IsPercentUnit(unit):
		return Round4(100 - target)
	case unit == "" || strings.EqualFold(unit, "ratio"):
		if target > 0 && target <= 1 {
			return Round4(1 - target)
		}
		if target > 1 && target <= 100 {
			return Round4(100 - target)
		}
	}
	return 100
}

// IsPercentUnit reports whether unit denotes a percentage.
func IsPercentUnit(unit string) bool {
	u := strings.TrimSpace(strings.ToLower(unit))
	return u == "%" || u == "percent" || u == "pct"
}

// ErrorBudgetRemaining is the budget left after the current burn rate.
func (s *SLO) ErrorBudgetRemaining() float64 {
	return Round4(math.Max(0, s.ErrorBudget()*(1-s.CurrentBurnRate)))
}

// Breached reports whether the current value sits on the unsafe side of the target.
func (s *SLO) Breached() bool {
	if s.Direction == DirectionAtMost {
		return s.CurrentValue > s.Target
	}
	return s.CurrentValue < s.Target
}

// Status derives health: breached, then at_risk, then healthy.
func (s *SLO) Status() SLOStatus {
	switch {
	case s.Breached():
		return SLOBreached
	case s.CurrentBurnRate > AtRiskBurnRate:
		return SLOAtRisk
	default:
		return SLOHealthy
	}
}

// Clone returns a deep copy.
func (s *SLO) Clone() *SLO {
	out := *s
	out.BurnHistory = append([]BurnSample(nil), s.BurnHistory...)
	out.LinkedAlerts = append([]string(nil), s.LinkedAlerts...)
	out.LinkedIncidents = append([]string(nil), s.LinkedIncidents...)
	return &out
}

type plainSLO SLO

type sloView struct {
	plainSLO
	ErrorBudget          float64   `json:"error_budget"`
	ErrorBudgetRemaining float64   `json:"error_budget_remaining"`
	Status               SLOStatus `json:"status"`
}

func (s SLO) view() sloView {
	return sloView{plainSLO(s), s.ErrorBudget(), s.ErrorBudgetRemaining(), s.Status()}
}

// MarshalJSON adds the derived fields so readers never see a stale status.
func (s SLO) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.view())
}

// BurnDownPoint is one point of the projected error-budget burn-down.
type BurnDownPoint struct {
	Label            string        `json:"label"`
	Ago              time.Duration `json:"ago"`
	Remaining        float64       `json:"remaining"`
	RemainingPercent float64       `json:"remaining_percent"`
}

// SLODetail joins the SLO with summaries of its linked alerts at read time.
type SLODetail struct {
	*SLO
	LinkedAlertDetails []AlertSummary `json:"linked_alert_details"`
}

// MarshalJSON flattens the SLO view next to the joined alerts.
func (d SLODetail) MarshalJSON() ([]byte, error) {
	if d.SLO == nil {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		sloView
		LinkedAlertDetails []AlertSummary `json:"linked_alert_details"`
	}{d.SLO.view(), d.LinkedAlertDetails})
}

// CreateSLORequest carries the payload of an SLO creation.
type CreateSLORequest struct {
	ServiceID        string       `json:"service_id"`
	ServiceName      string       `json:"service_name"`
	Metric           string       `json:"metric"`
	MetricUnit       string       `json:"metric_unit"`
	Direction        SLODirection `json:"direction"`
	Target           *float64     `json:"target"`
	EvaluationWindow string       `json:"evaluation_window"`
}

// SLOUpdate changes target or window. Nil fields are left unchanged.
type SLOUpdate struct {
	ServiceName      *string  `json:"service_name,omitempty"`
	Target           *float64 `json:"target,omitempty"`
	EvaluationWindow *string  `json:"evaluation_window,omitempty"`
}

// Round4 rounds to four decimal places for display stability.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
