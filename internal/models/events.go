package models

import "time"

// EventType names an outbound notification.
type EventType string

const (
	EventMetricIngested  EventType = "metric_ingested"
	EventAlertCreated    EventType = "alert_created"
	EventAlertUpdated    EventType = "alert_updated"
	EventAlertResolved   EventType = "alert_resolved"
	EventIncidentUpdated EventType = "incident_updated"
	EventSLOUpdated      EventType = "slo_updated"
)

// Event is a fire-and-forget notification for transport layers.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// MetricIngestedPayload is carried by EventMetricIngested.
type MetricIngestedPayload struct {
	ModelID   string    `json:"model_id"`
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertResolvedPayload is carried by EventAlertResolved.
type AlertResolvedPayload struct {
	AlertID    string `json:"alert_id"`
	ResolvedBy string `json:"resolved_by"`
}
