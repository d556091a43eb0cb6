package reporting

import (
	"context"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

// ComplianceReport bundles what an auditor needs for a period. Rendering is left to callers.
type ComplianceReport struct {
	Start          time.Time            `json:"start"`
	End            time.Time            `json:"end"`
	GeneratedAt    time.Time            `json:"generated_at"`
	Alerts         AlertStats           `json:"alerts"`
	Incidents      IncidentStats        `json:"incidents"`
	SLOBreaches    []*models.SLO        `json:"slo_breaches"`
	Activity       AuditBreakdown       `json:"activity"`
	AuditEntries   []*models.AuditEntry `json:"audit_entries"`
	ResolvedAlerts []*models.Alert      `json:"resolved_alerts"`
}

// ComplianceReport collects statistics and the raw ledger for [start, end).
// Audit entries are returned unmasked; callers mask them for the requesting role.
func (r *Reporter) ComplianceReport(ctx context.Context, start, end time.Time) (ComplianceReport, error) {
	start, end, err := r.TimeRange(start, end)
	if err != nil {
		return ComplianceReport{}, err
	}
	report := ComplianceReport{Start: start, End: end, GeneratedAt: r.now().UTC()}

	if report.Alerts, err = r.AlertStats(ctx, start); err != nil {
		return ComplianceReport{}, err
	}
	if report.Incidents, err = r.IncidentStats(ctx); err != nil {
		return ComplianceReport{}, err
	}
	if report.SLOBreaches, err = r.SLOBreaches(ctx); err != nil {
		return ComplianceReport{}, err
	}
	if report.Activity, err = r.AuditBreakdown(ctx, start, end); err != nil {
		return ComplianceReport{}, err
	}
	if report.AuditEntries, err = r.src.Audit.Entries(ctx, models.AuditFilter{Start: start, End: end}); err != nil {
		return ComplianceReport{}, err
	}

	alerts, err := r.src.Alerts.List(ctx, models.AlertFilter{Status: models.AlertResolved, Since: start})
	if err != nil {
		return ComplianceReport{}, err
	}
	report.ResolvedAlerts = make([]*models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.ResolvedAt != nil && a.ResolvedAt.Before(end) {
			report.ResolvedAlerts = append(report.ResolvedAlerts, a)
		}
	}
	if report.SLOBreaches == nil {
		report.SLOBreaches = []*models.SLO{}
	}
	if report.AuditEntries == nil {
		report.AuditEntries = []*models.AuditEntry{}
	}
	return report, nil
}
