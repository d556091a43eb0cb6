package models

import (
	"encoding/json"
	"time"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from most to least urgent.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AlertStatus is a state of the alert lifecycle.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertAcknowledged  AlertStatus = "acknowledged"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
)

// AlertStatuses lists the lifecycle in order.
var AlertStatuses = []AlertStatus{AlertOpen, AlertAcknowledged, AlertInvestigating, AlertResolved}

var nextAlertStatus = map[AlertStatus]AlertStatus{
	AlertOpen:          AlertAcknowledged,
	AlertAcknowledged:  AlertInvestigating,
	AlertInvestigating: AlertResolved,
}

// Next returns the only state reachable from s.
func (s AlertStatus) Next() (AlertStatus, bool) {
	next, ok := nextAlertStatus[s]
	return next, ok
}

// CanTransitionTo reports whether target is the allowed successor of s.
func (s AlertStatus) CanTransitionTo(target AlertStatus) bool {
	next, ok := s.Next()
	return ok && next == target
}

// Valid reports whether s is a known lifecycle state.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertOpen, AlertAcknowledged, AlertInvestigating, AlertResolved:
		return true
	}
	return false
}

// BreachDescriptor is what the rule engine reports when an observation violates its rule.
type BreachDescriptor struct {
	ModelID          string    `json:"model_id"`
	ModelName        string    `json:"model_name"`
	MetricType       string    `json:"metric_type"`
	RuleID           string    `json:"rule_id"`
	Rule             string    `json:"rule"`
	Severity         Severity  `json:"severity"`
	Title            string    `json:"title"`
	Message          string    `json:"message"`
	ObservedValue    float64   `json:"observed_value"`
	Threshold        float64   `json:"threshold"`
	Operator         string    `json:"operator"`
	EvaluationWindow string    `json:"evaluation_window"`
	Timestamp        time.Time `json:"timestamp"`
}

// Evidence captures the descriptor values verbatim.
func (b BreachDescriptor) Evidence() EvidenceSnapshot {
	return EvidenceSnapshot{
		RuleID:           b.RuleID,
		MetricName:       b.MetricType,
		Threshold:        b.Threshold,
		Operator:         b.Operator,
		ObservedValue:    b.ObservedValue,
		EvaluationWindow: b.EvaluationWindow,
		Timestamp:        b.Timestamp,
	}
}

// EvidenceSnapshot records the exact values that made an alert fire.
type EvidenceSnapshot struct {
	RuleID           string    `json:"rule_id" bson:"rule_id"`
	MetricName       string    `json:"metric_name" bson:"metric_name"`
	Threshold        float64   `json:"threshold" bson:"threshold"`
	Operator         string    `json:"operator" bson:"operator"`
	ObservedValue    float64   `json:"observed_value" bson:"observed_value"`
	EvaluationWindow string    `json:"evaluation_window" bson:"evaluation_window"`
	Timestamp        time.Time `json:"timestamp" bson:"timestamp"`
}

// StateTransition is one entry of an alert's history. PreviousState is nil for the first entry.
type StateTransition struct {
	PreviousState *AlertStatus `json:"previous_state" bson:"previous_state"`
	NewState      AlertStatus  `json:"new_state" bson:"new_state"`
	UserID        string       `json:"user_id" bson:"user_id"`
	UserName      string       `json:"user_name" bson:"user_name"`
	Timestamp     time.Time    `json:"timestamp" bson:"timestamp"`
	Comment       string       `json:"comment,omitempty" bson:"comment,omitempty"`
}

// Alert is a breach under governance. Its evidence is fixed at construction.
type Alert struct {
	ID           string            `json:"id"`
	ModelID      string            `json:"model_id"`
	ModelName    string            `json:"model_name"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	Severity     Severity          `json:"severity"`
	Rule         string            `json:"rule"`
	Status       AlertStatus       `json:"status"`
	StateHistory []StateTransition `json:"state_history"`
	AssignedTo   string            `json:"assigned_to,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ResolvedAt   *time.Time        `json:"resolved_at"`
	ResolvedBy   string            `json:"resolved_by,omitempty"`

	evidence EvidenceSnapshot
}

// NewAlert opens an alert for breach with its initial system transition.
func NewAlert(id string, breach BreachDescriptor, now time.Time) *Alert {
	return &Alert{
		ID:        id,
		ModelID:   breach.ModelID,
		ModelName: breach.ModelName,
		Title:     breach.Title,
		Message:   breach.Message,
		Severity:  breach.Severity,
		Rule:      breach.Rule,
		Status:    AlertOpen,
		StateHistory: []StateTransition{{
			NewState:  AlertOpen,
			UserID:    SystemActor.ID,
			UserName:  SystemActor.Name,
			Timestamp: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
		evidence:  breach.Evidence(),
	}
}

// RestoreAlert rebuilds an alert from persisted state, including its original evidence.
func RestoreAlert(a Alert, evidence EvidenceSnapshot) *Alert {
	restored := a.Clone()
	restored.evidence = evidence
	return restored
}

// Evidence returns the snapshot captured when the alert was created.
func (a *Alert) Evidence() EvidenceSnapshot {
	return a.evidence
}

// DedupKey identifies the (model, rule) pair an alert deduplicates on.
func (a *Alert) DedupKey() string {
	return DedupKey(a.ModelID, a.Rule)
}

// DedupKey builds the deduplication key for a model and rule.
func DedupKey(modelID, rule string) string {
	return modelID + "|" + rule
}

// Clone returns a deep copy.
func (a *Alert) Clone() *Alert {
	out := *a
	out.StateHistory = make([]StateTransition, len(a.StateHistory))
	for i, tr := range a.StateHistory {
		out.StateHistory[i] = tr
		if tr.PreviousState != nil {
			prev := *tr.PreviousState
			out.StateHistory[i].PreviousState = &prev
		}
	}
	if a.ResolvedAt != nil {
		resolved := *a.ResolvedAt
		out.ResolvedAt = &resolved
	}
	return &out
}

// MarshalJSON includes the evidence snapshot alongside the exported fields.
func (a Alert) MarshalJSON() ([]byte, error) {
	type plain Alert
	return json.Marshal(struct {
		plain
		Evidence EvidenceSnapshot `json:"evidence"`
	}{plain(a), a.evidence})
}

// AlertSummary is the read-time projection used when other entities reference an alert.
type AlertSummary struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Severity  Severity    `json:"severity"`
	Status    AlertStatus `json:"status"`
	ModelName string      `json:"model_name"`
}

// Summary projects the alert for cross-entity joins.
func (a *Alert) Summary() AlertSummary {
	return AlertSummary{ID: a.ID, Title: a.Title, Severity: a.Severity, Status: a.Status, ModelName: a.ModelName}
}
