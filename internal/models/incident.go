package models

import "time"

// IncidentStatus tracks whether an incident is still being worked.
type IncidentStatus string

const (
	IncidentOpen   IncidentStatus = "open"
	IncidentClosed IncidentStatus = "closed"
)

// TimelineEntry records a notable progression during an incident.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Event     string    `json:"event" bson:"event"`
	User      string    `json:"user" bson:"user"`
	Details   string    `json:"details,omitempty" bson:"details,omitempty"`
}

// Incident groups alerts under a single investigation. Linked alerts are ids only.
type Incident struct {
	ID              string          `json:"id" bson:"_id"`
	Title           string          `json:"title" bson:"title"`
	Severity        Severity        `json:"severity" bson:"severity"`
	Status          IncidentStatus  `json:"status" bson:"status"`
	LinkedAlerts    []string        `json:"linked_alerts" bson:"linked_alerts"`
	StartTime       time.Time       `json:"start_time" bson:"start_time"`
	EndTime         *time.Time      `json:"end_time" bson:"end_time"`
	Timeline        []TimelineEntry `json:"timeline" bson:"timeline"`
	RootCause       string          `json:"root_cause,omitempty" bson:"root_cause,omitempty"`
	MitigationSteps string          `json:"mitigation_steps,omitempty" bson:"mitigation_steps,omitempty"`
	ApprovedBy      string          `json:"approved_by,omitempty" bson:"approved_by,omitempty"`
	CreatedBy       string          `json:"created_by" bson:"created_by"`
	UpdatedAt       time.Time       `json:"updated_at" bson:"updated_at"`
}

// HasAlert reports whether alertID is already linked.
func (i *Incident) HasAlert(alertID string) bool {
	for _, id := range i.LinkedAlerts {
		if id == alertID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (i *Incident) Clone() *Incident {
	out := *i
	out.LinkedAlerts = append([]string(nil), i.LinkedAlerts...)
	out.Timeline = append([]TimelineEntry(nil), i.Timeline...)
	if i.EndTime != nil {
		end := *i.EndTime
		out.EndTime = &end
	}
	return &out
}

// IncidentDetail joins the incident with summaries of its linked alerts at read time.
type IncidentDetail struct {
	*Incident
	LinkedAlertDetails []AlertSummary `json:"linked_alert_details"`
}

// CreateIncidentRequest carries the payload of an incident creation.
type CreateIncidentRequest struct {
	Title        string   `json:"title"`
	Severity     Severity `json:"severity"`
	LinkedAlerts []string `json:"linked_alerts"`
}

// RCAUpdate is a partial update of an open incident. Nil fields are left unchanged.
type RCAUpdate struct {
	Title           *string        `json:"title,omitempty"`
	Severity        *Severity      `json:"severity,omitempty"`
	RootCause       *string        `json:"root_cause,omitempty"`
	MitigationSteps *string        `json:"mitigation_steps,omitempty"`
	TimelineEntry   *TimelineEntry `json:"timeline_entry,omitempty"`
}
