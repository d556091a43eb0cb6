package models

import "time"

// AuditAction names a state-changing action. The set is open; these are the ones the engine writes.
type AuditAction string

const (
	ActionMetricIngested     AuditAction = "METRIC_INGESTED"
	ActionAlertCreated       AuditAction = "ALERT_CREATED"
	ActionAlertAcknowledged  AuditAction = "ALERT_ACKNOWLEDGED"
	ActionAlertInvestigating AuditAction = "ALERT_INVESTIGATING"
	ActionAlertResolved      AuditAction = "ALERT_RESOLVED"
	ActionIncidentCreated    AuditAction = "INCIDENT_CREATED"
	ActionIncidentUpdated    AuditAction = "INCIDENT_UPDATED"
	ActionIncidentLinked     AuditAction = "INCIDENT_ALERT_LINKED"
	ActionIncidentClosed     AuditAction = "INCIDENT_CLOSED"
	ActionSLOCreated         AuditAction = "SLO_CREATED"
	ActionSLOUpdated         AuditAction = "SLO_UPDATED"
	ActionSLORecomputed      AuditAction = "SLO_RECOMPUTED"
	ActionSLOLinked          AuditAction = "SLO_LINKED"
	ActionExportInitiated    AuditAction = "EXPORT_INITIATED"
)

// TransitionAction maps an alert target state to its audit action.
func TransitionAction(target AlertStatus) AuditAction {
	switch target {
	case AlertAcknowledged:
		return ActionAlertAcknowledged
	case AlertInvestigating:
		return ActionAlertInvestigating
	case AlertResolved:
		return ActionAlertResolved
	default:
		return AuditAction("ALERT_" + string(target))
	}
}

// RoleAdmin is the only role that reads audit entries unmasked.
const RoleAdmin = "admin"

// Actor identifies who performed an operation.
type Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	IPAddress string `json:"ip_address,omitempty"`
}

// SystemActor performs automatic actions such as alert creation.
var SystemActor = Actor{ID: "system", Name: "system", Role: "system"}

// DisplayName prefers the human name and falls back to the id.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// FieldChange is one before/after pair recorded on an audit entry.
type FieldChange struct {
	Before any `json:"before" bson:"before"`
	After  any `json:"after" bson:"after"`
}

// AuditEntry is an append-only record of a state change.
type AuditEntry struct {
	ID        string                 `json:"id" bson:"_id"`
	Action    AuditAction            `json:"action" bson:"action"`
	Details   string                 `json:"details" bson:"details"`
	UserID    string                 `json:"user_id" bson:"user_id"`
	UserName  string                 `json:"user_name" bson:"user_name"`
	UserRole  string                 `json:"user_role" bson:"user_role"`
	ModelID   string                 `json:"model_id,omitempty" bson:"model_id,omitempty"`
	ModelName string                 `json:"model_name,omitempty" bson:"model_name,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	Changes   map[string]FieldChange `json:"changes,omitempty" bson:"changes,omitempty"`
}

// Clone returns a copy whose changes map is independent of the receiver's.
func (e *AuditEntry) Clone() *AuditEntry {
	out := *e
	if e.Changes != nil {
		out.Changes = make(map[string]FieldChange, len(e.Changes))
		for k, v := range e.Changes {
			out.Changes[k] = v
		}
	}
	return &out
}

// AuditFilter narrows an audit query. Zero values match everything.
type AuditFilter struct {
	Action AuditAction
	UserID string
	Start  time.Time
	End    time.Time
}

// Matches reports whether e satisfies every set field of f.
func (f AuditFilter) Matches(e *AuditEntry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !e.Timestamp.Before(f.End) {
		return false
	}
	return true
}
