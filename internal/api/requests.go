package api

import (
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

type idRequest struct {
	ID string `json:"id"`
}

type pageParams struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (p pageParams) request() models.PageRequest {
	return models.PageRequest{Page: p.Page, Limit: p.Limit}
}

type listAlertsRequest struct {
	pageParams
	ModelID  string             `json:"model_id"`
	Status   models.AlertStatus `json:"status"`
	Severity models.Severity    `json:"severity"`
}

func (r listAlertsRequest) filter() models.AlertFilter {
	return models.AlertFilter{ModelID: r.ModelID, Status: r.Status, Severity: r.Severity}
}

// transitionRequest carries no actor; identity comes from call metadata.
type transitionRequest struct {
	AlertID string             `json:"alert_id"`
	Status  models.AlertStatus `json:"status"`
	Comment string             `json:"comment"`
}

type listIncidentsRequest struct {
	pageParams
	Status   models.IncidentStatus `json:"status"`
	Severity models.Severity       `json:"severity"`
}

type linkRequest struct {
	IncidentID string `json:"incident_id"`
	AlertID    string `json:"alert_id"`
}

type updateIncidentRequest struct {
	ID string `json:"id"`
	models.RCAUpdate
}

type updateSLORequest struct {
	ID string `json:"id"`
	models.SLOUpdate
}

type recomputeSLORequest struct {
	ID           string   `json:"id"`
	CurrentValue *float64 `json:"current_value"`
	BurnRate     *float64 `json:"burn_rate"`
}

func (r recomputeSLORequest) values() (float64, float64, error) {
	if r.CurrentValue == nil || r.BurnRate == nil {
		return 0, 0, utils.Invalid("api.RecomputeSLO", "current_value and burn_rate are required")
	}
	return *r.CurrentValue, *r.BurnRate, nil
}

type linkSLORequest struct {
	ID         string `json:"id"`
	AlertID    string `json:"alert_id"`
	IncidentID string `json:"incident_id"`
}

type listSLOsRequest struct {
	pageParams
	ServiceID string           `json:"service_id"`
	Status    models.SLOStatus `json:"status"`
}

type auditRequest struct {
	pageParams
	Action models.AuditAction `json:"action"`
	UserID string             `json:"user_id"`
	Start  time.Time          `json:"start"`
	End    time.Time          `json:"end"`
}

func (r auditRequest) filter() models.AuditFilter {
	return models.AuditFilter{Action: r.Action, UserID: r.UserID, Start: r.Start, End: r.End}
}

type rangeRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type summaryRequest struct {
	ModelID    string    `json:"model_id"`
	MetricType string    `json:"metric_type"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Bucket     string    `json:"bucket"`
}

func (r summaryRequest) width() (time.Duration, error) {
	if r.Bucket == "" {
		return 0, nil
	}
	d, err := utils.ParseWindow(r.Bucket)
	if err != nil {
		return 0, utils.Invalid("api.MetricSummary", "invalid bucket %q", r.Bucket)
	}
	return d, nil
}

type anomalyRequest struct {
	ModelID    string    `json:"model_id"`
	MetricType string    `json:"metric_type"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Threshold  float64   `json:"threshold"`
}

type hotspotRequest struct {
	Since          time.Time `json:"since"`
	MinOccurrences int       `json:"min_occurrences"`
}
