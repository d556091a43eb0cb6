package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/alerts"
	"github.com/miradorstack/mirador-modelwatch/internal/audit"
	"github.com/miradorstack/mirador-modelwatch/internal/catalog"
	"github.com/miradorstack/mirador-modelwatch/internal/engine"
	"github.com/miradorstack/mirador-modelwatch/internal/incidents"
	"github.com/miradorstack/mirador-modelwatch/internal/metrics"
	"github.com/miradorstack/mirador-modelwatch/internal/metricstore"
	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/reporting"
	"github.com/miradorstack/mirador-modelwatch/internal/slo"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

// Paging holds listing page sizes.
type Paging struct {
	Default      int
	AuditDefault int
	Max          int
}

// DefaultPaging mirrors the dashboard defaults.
var DefaultPaging = Paging{Default: 20, AuditDefault: 25, Max: 50}

// governanceActions are recorded by surrounding systems (auth, deployment tooling) into the
// same ledger and are offered as filters alongside the engine's own actions.
var governanceActions = []models.AuditAction{
	"USER_LOGIN", "MODEL_DEPLOYED", "MODEL_RETRAINED", "THRESHOLD_UPDATED",
	"ROLE_CHANGED", "CONFIG_CHANGED", "DATA_ACCESSED",
}

var engineActions = []models.AuditAction{
	models.ActionMetricIngested,
	models.ActionAlertCreated,
	models.ActionAlertAcknowledged,
	models.ActionAlertInvestigating,
	models.ActionAlertResolved,
	models.ActionIncidentCreated,
	models.ActionIncidentUpdated,
	models.ActionIncidentLinked,
	models.ActionIncidentClosed,
	models.ActionSLOCreated,
	models.ActionSLOUpdated,
	models.ActionSLORecomputed,
	models.ActionSLOLinked,
	models.ActionExportInitiated,
}

// Deps are the components a MonitoringService orchestrates.
type Deps struct {
	Catalog   *catalog.Catalog
	Metrics   *metricstore.Store
	Pipeline  *engine.Pipeline
	Alerts    *alerts.Manager
	Incidents *incidents.Correlator
	SLOs      *slo.Tracker
	Ledger    *audit.Ledger
	Reporter  *reporting.Reporter
	Events    engine.Publisher
}

// MonitoringService is the inbound facade. Every successful mutation writes exactly one
// audit entry; failed operations write nothing.
type MonitoringService struct {
	logger    *slog.Logger
	catalog   *catalog.Catalog
	metrics   *metricstore.Store
	pipeline  *engine.Pipeline
	alerts    *alerts.Manager
	incidents *incidents.Correlator
	slos      *slo.Tracker
	ledger    *audit.Ledger
	reporter  *reporting.Reporter
	events    engine.Publisher
	paging    Paging
	now       func() time.Time
	latencies *utils.LatencyTracker
	ingested  atomic.Uint64
}

// NewMonitoringService constructs the facade. A zero Paging falls back to DefaultPaging.
func NewMonitoringService(logger *slog.Logger, deps Deps, paging Paging) *MonitoringService {
	if logger == nil {
		logger = slog.Default()
	}
	if paging.Default <= 0 {
		paging.Default = DefaultPaging.Default
	}
	if paging.AuditDefault <= 0 {
		paging.AuditDefault = DefaultPaging.AuditDefault
	}
	if paging.Max <= 0 {
		paging.Max = DefaultPaging.Max
	}
	return &MonitoringService{
		logger:    logger,
		catalog:   deps.Catalog,
		metrics:   deps.Metrics,
		pipeline:  deps.Pipeline,
		alerts:    deps.Alerts,
		incidents: deps.Incidents,
		slos:      deps.SLOs,
		ledger:    deps.Ledger,
		reporter:  deps.Reporter,
		events:    deps.Events,
		paging:    paging,
		now:       time.Now,
		latencies: utils.NewLatencyTracker(1024),
	}
}

func (s *MonitoringService) publish(ctx context.Context, typ models.EventType, payload any) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, models.Event{Type: typ, Timestamp: s.now().UTC(), Payload: payload})
}

func orSystem(actor models.Actor) models.Actor {
	if actor.ID == "" {
		return models.SystemActor
	}
	return actor
}

// ModelDetail is a catalog entry with its most recent observations.
type ModelDetail struct {
	models.Model
	Latest map[string]models.MetricPoint `json:"latest_metrics"`
}

// ListModels returns catalog entries matching filter.
func (s *MonitoringService) ListModels(filter models.ModelFilter) []models.Model {
	return s.catalog.List(filter)
}

// GetModel returns a model and its latest point per metric type.
func (s *MonitoringService) GetModel(ctx context.Context, id string) (ModelDetail, error) {
	model, err := s.catalog.Get(id)
	if err != nil {
		return ModelDetail{}, err
	}
	latest, err := s.metrics.LatestByType(ctx, id)
	if err != nil {
		return ModelDetail{}, err
	}
	return ModelDetail{Model: model, Latest: latest}, nil
}

// IngestMetric stores an observation and opens or reuses an alert when it breaches.
func (s *MonitoringService) IngestMetric(ctx context.Context, req models.IngestRequest, actor models.Actor) (models.IngestResult, error) {
	actor = orSystem(actor)
	start := time.Now()
	result, err := s.pipeline.Ingest(ctx, req)
	duration := time.Since(start)
	if err != nil && result.Point.ID == "" {
		metrics.ObserveIngest(req.MetricType, duration, metrics.OutcomeError)
		s.logger.Debug("ingest rejected", slog.String("model_id", req.ModelID), slog.Any("error", err))
		return models.IngestResult{}, err
	}

	point := result.Point
	model, _ := s.catalog.Get(point.ModelID)
	s.ledger.Record(ctx, models.ActionMetricIngested, actor,
		fmt.Sprintf("%s = %s recorded for %s", point.MetricType, formatValue(point.Value), model.Name),
		audit.WithModel(model.ID, model.Name),
	)
	if err != nil {
		// The point is stored but alerting failed; the caller still sees the error.
		metrics.ObserveIngest(point.MetricType, duration, metrics.OutcomeError)
		s.logger.Error("alert evaluation failed", slog.String("model_id", point.ModelID), slog.Any("error", err))
		return result, err
	}
	metrics.ObserveIngest(point.MetricType, duration, metrics.OutcomeSuccess)
	s.observeLatency(duration)

	switch {
	case result.AlertCreated:
		metrics.AlertCreated(string(result.Alert.Severity))
		s.ledger.Record(ctx, models.ActionAlertCreated, models.SystemActor,
			fmt.Sprintf("%s: %s", result.Alert.Title, result.Alert.Message),
			audit.WithModel(result.Alert.ModelID, result.Alert.ModelName),
		)
	case result.DuplicateSuppressed:
		metrics.DuplicateSuppressed()
	}
	return result, nil
}

// latencyLogEvery is the number of ingests between p95 log lines.
const latencyLogEvery = 100

func (s *MonitoringService) observeLatency(d time.Duration) {
	s.latencies.Observe(d)
	if n := s.ingested.Add(1); n%latencyLogEvery == 0 {
		s.logger.Info("ingest latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Uint64("ingested", n),
			slog.Int("window", s.latencies.Count()),
		)
	}
}

// LatencyP95 returns the current p95 ingestion latency.
func (s *MonitoringService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

// MetricSummary aggregates one series of a known model.
func (s *MonitoringService) MetricSummary(ctx context.Context, modelID, metricType string, start, end time.Time, width time.Duration) (metricstore.Summary, error) {
	return s.reporter.MetricSummary(ctx, modelID, metricType, start, end, width)
}

// MetricAnomalies reports outliers in one series; a zero range covers the last 24 hours.
func (s *MonitoringService) MetricAnomalies(ctx context.Context, modelID, metricType string, start, end time.Time, threshold float64) ([]metricstore.Anomaly, error) {
	start, end, err := s.reporter.TimeRange(start, end)
	if err != nil {
		return nil, err
	}
	return s.metrics.Anomalies(ctx, modelID, metricType, start, end, threshold)
}

// ListAlerts returns one page of alerts, newest first.
func (s *MonitoringService) ListAlerts(ctx context.Context, filter models.AlertFilter, page models.PageRequest) (models.Page[*models.Alert], error) {
	list, err := s.alerts.List(ctx, filter)
	if err != nil {
		return models.Page[*models.Alert]{}, err
	}
	return models.Paginate(list, page.Normalize(s.paging.Default, s.paging.Max)), nil
}

// GetAlert returns one alert.
func (s *MonitoringService) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return s.alerts.Get(ctx, id)
}

// AlertEvidence returns the evidence captured when the alert fired.
func (s *MonitoringService) AlertEvidence(ctx context.Context, id string) (models.EvidenceSnapshot, error) {
	return s.alerts.Evidence(ctx, id)
}

// AlertHistory returns the alert's state transitions.
func (s *MonitoringService) AlertHistory(ctx context.Context, id string) ([]models.StateTransition, error) {
	return s.alerts.History(ctx, id)
}

// TransitionAlert moves an alert one step along its lifecycle.
func (s *MonitoringService) TransitionAlert(ctx context.Context, req models.TransitionRequest, actor models.Actor) (*models.Alert, error) {
	alert, err := s.alerts.Transition(ctx, req.AlertID, req.Target, actor, req.Comment)
	if err != nil {
		metrics.AlertTransition(string(req.Target), metrics.OutcomeError)
		return nil, err
	}
	metrics.AlertTransition(string(req.Target), metrics.OutcomeSuccess)

	var previous models.AlertStatus
	if n := len(alert.StateHistory); n > 0 && alert.StateHistory[n-1].PreviousState != nil {
		previous = *alert.StateHistory[n-1].PreviousState
	}
	details := fmt.Sprintf("Alert %q moved to %s", alert.Title, alert.Status)
	if c := strings.TrimSpace(req.Comment); c != "" {
		details += ": " + c
	}
	s.ledger.Record(ctx, models.TransitionAction(alert.Status), actor, details,
		audit.WithModel(alert.ModelID, alert.ModelName),
		audit.WithChange("status", previous, alert.Status),
	)

	if alert.Status == models.AlertResolved {
		s.publish(ctx, models.EventAlertResolved, models.AlertResolvedPayload{AlertID: alert.ID, ResolvedBy: alert.ResolvedBy})
	} else {
		s.publish(ctx, models.EventAlertUpdated, alert)
	}
	return alert, nil
}

// CreateIncident opens an incident over the given alerts.
func (s *MonitoringService) CreateIncident(ctx context.Context, req models.CreateIncidentRequest, actor models.Actor) (*models.Incident, error) {
	incident, err := s.incidents.Create(ctx, req, actor)
	if err != nil {
		return nil, err
	}
	s.ledger.Record(ctx, models.ActionIncidentCreated, actor,
		fmt.Sprintf("Incident %q created with %d linked alerts", incident.Title, len(incident.LinkedAlerts)))
	s.publish(ctx, models.EventIncidentUpdated, incident)
	return incident, nil
}

// GetIncident returns an incident joined with its linked alert summaries.
func (s *MonitoringService) GetIncident(ctx context.Context, id string) (models.IncidentDetail, error) {
	return s.incidents.Detail(ctx, id)
}

// ListIncidents returns one page of incidents, newest first.
func (s *MonitoringService) ListIncidents(ctx context.Context, filter models.IncidentFilter, page models.PageRequest) (models.Page[*models.Incident], error) {
	list, err := s.incidents.List(ctx, filter)
	if err != nil {
		return models.Page[*models.Incident]{}, err
	}
	return models.Paginate(list, page.Normalize(s.paging.Default, s.paging.Max)), nil
}

// LinkAlert attaches an alert to an incident. Relinking is a no-op and is not audited.
func (s *MonitoringService) LinkAlert(ctx context.Context, incidentID, alertID string, actor models.Actor) (*models.Incident, error) {
	incident, added, err := s.incidents.Link(ctx, incidentID, alertID, actor)
	if err != nil {
		return nil, err
	}
	if added {
		s.ledger.Record(ctx, models.ActionIncidentLinked, actor,
			fmt.Sprintf("Alert %s linked to incident %q", alertID, incident.Title))
		s.publish(ctx, models.EventIncidentUpdated, incident)
	}
	return incident, nil
}

// UpdateIncidentRCA applies a partial update to an open incident.
func (s *MonitoringService) UpdateIncidentRCA(ctx context.Context, id string, update models.RCAUpdate, actor models.Actor) (*models.Incident, error) {
	before, err := s.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	incident, err := s.incidents.UpdateRCA(ctx, id, update, actor)
	if err != nil {
		return nil, err
	}

	opts := incidentChanges(before, incident, update)
	s.ledger.Record(ctx, models.ActionIncidentUpdated, actor, fmt.Sprintf("Incident %q updated", incident.Title), opts...)
	s.publish(ctx, models.EventIncidentUpdated, incident)
	return incident, nil
}

func incidentChanges(before, after *models.Incident, update models.RCAUpdate) []audit.EntryOption {
	var opts []audit.EntryOption
	if update.Title != nil {
		opts = append(opts, audit.WithChange("title", before.Title, after.Title))
	}
	if update.Severity != nil {
		opts = append(opts, audit.WithChange("severity", before.Severity, after.Severity))
	}
	if update.RootCause != nil {
		opts = append(opts, audit.WithChange("root_cause", before.RootCause, after.RootCause))
	}
	if update.MitigationSteps != nil {
		opts = append(opts, audit.WithChange("mitigation_steps", before.MitigationSteps, after.MitigationSteps))
	}
	return opts
}

// CloseIncident closes an incident once its root cause is recorded.
func (s *MonitoringService) CloseIncident(ctx context.Context, id string, actor models.Actor) (*models.Incident, error) {
	incident, err := s.incidents.Close(ctx, id, actor)
	if err != nil {
		metrics.IncidentClosure(metrics.OutcomeError)
		return nil, err
	}
	metrics.IncidentClosure(metrics.OutcomeSuccess)
	s.ledger.Record(ctx, models.ActionIncidentClosed, actor,
		fmt.Sprintf("Incident %q closed. Root cause: %s", incident.Title, incident.RootCause),
		audit.WithChange("status", models.IncidentOpen, models.IncidentClosed),
	)
	s.publish(ctx, models.EventIncidentUpdated, incident)
	return incident, nil
}

// ExportIncident returns the incident with its timeline for export and records the export.
func (s *MonitoringService) ExportIncident(ctx context.Context, id string, actor models.Actor) (models.IncidentDetail, error) {
	detail, err := s.incidents.Detail(ctx, id)
	if err != nil {
		return models.IncidentDetail{}, err
	}
	s.ledger.Record(ctx, models.ActionExportInitiated, actor, fmt.Sprintf("Incident %q exported", detail.Title))
	return detail, nil
}

// CreateSLO registers an objective.
func (s *MonitoringService) CreateSLO(ctx context.Context, req models.CreateSLORequest, actor models.Actor) (*models.SLO, error) {
	created, err := s.slos.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.ledger.Record(ctx, models.ActionSLOCreated, actor,
		fmt.Sprintf("SLO for %s created: %s %s %s over %s", created.ServiceName, created.Metric,
			created.Direction, formatValue(created.Target), created.EvaluationWindow))
	s.publish(ctx, models.EventSLOUpdated, created)
	return created, nil
}

// UpdateSLO changes the target, window or name of an objective.
func (s *MonitoringService) UpdateSLO(ctx context.Context, id string, update models.SLOUpdate, actor models.Actor) (*models.SLO, error) {
	before, err := s.slos.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := s.slos.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}
	var opts []audit.EntryOption
	if update.Target != nil {
		opts = append(opts, audit.WithChange("target", before.Target, updated.Target))
	}
	if update.EvaluationWindow != nil {
		opts = append(opts, audit.WithChange("evaluation_window", before.EvaluationWindow, updated.EvaluationWindow))
	}
	if update.ServiceName != nil {
		opts = append(opts, audit.WithChange("service_name", before.ServiceName, updated.ServiceName))
	}
	s.ledger.Record(ctx, models.ActionSLOUpdated, actor, fmt.Sprintf("SLO for %s updated", updated.ServiceName), opts...)
	s.publish(ctx, models.EventSLOUpdated, updated)
	return updated, nil
}

// RecomputeSLO records a new observation of the objective's metric and burn rate.
func (s *MonitoringService) RecomputeSLO(ctx context.Context, id string, currentValue, burnRate float64, actor models.Actor) (*models.SLO, error) {
	before, err := s.slos.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := s.slos.Recompute(ctx, id, currentValue, burnRate)
	if err != nil {
		return nil, err
	}
	actor = orSystem(actor)
	s.ledger.Record(ctx, models.ActionSLORecomputed, actor,
		fmt.Sprintf("SLO for %s recomputed: %s", updated.ServiceName, updated.Status()),
		audit.WithChange("status", before.Status(), updated.Status()),
		audit.WithChange("current_burn_rate", before.CurrentBurnRate, updated.CurrentBurnRate),
	)
	s.publish(ctx, models.EventSLOUpdated, updated)
	return updated, nil
}

// LinkSLOAlert references an alert from an objective.
func (s *MonitoringService) LinkSLOAlert(ctx context.Context, id, alertID string, actor models.Actor) (*models.SLO, error) {
	updated, added, err := s.slos.LinkAlert(ctx, id, alertID)
	if err != nil {
		return nil, err
	}
	if added {
		s.ledger.Record(ctx, models.ActionSLOLinked, actor, fmt.Sprintf("Alert %s linked to SLO for %s", alertID, updated.ServiceName))
		s.publish(ctx, models.EventSLOUpdated, updated)
	}
	return updated, nil
}

// LinkSLOIncident references an incident from an objective.
func (s *MonitoringService) LinkSLOIncident(ctx context.Context, id, incidentID string, actor models.Actor) (*models.SLO, error) {
	updated, added, err := s.slos.LinkIncident(ctx, id, incidentID)
	if err != nil {
		return nil, err
	}
	if added {
		s.ledger.Record(ctx, models.ActionSLOLinked, actor, fmt.Sprintf("Incident %s linked to SLO for %s", incidentID, updated.ServiceName))
		s.publish(ctx, models.EventSLOUpdated, updated)
	}
	return updated, nil
}

// GetSLO returns an objective joined with its linked alert summaries.
func (s *MonitoringService) GetSLO(ctx context.Context, id string) (models.SLODetail, error) {
	return s.slos.Detail(ctx, id)
}

// ListSLOs returns one page of objectives.
func (s *MonitoringService) ListSLOs(ctx context.Context, filter models.SLOFilter, page models.PageRequest) (models.Page[*models.SLO], error) {
	list, err := s.slos.List(ctx, filter)
	if err != nil {
		return models.Page[*models.SLO]{}, err
	}
	return models.Paginate(list, page.Normalize(s.paging.Default, s.paging.Max)), nil
}

// SLOBurnDown projects the remaining error budget across the evaluation window.
func (s *MonitoringService) SLOBurnDown(ctx context.Context, id string) ([]models.BurnDownPoint, error) {
	return s.slos.BurnDown(ctx, id)
}

// SLOBreaches lists breached and at-risk objectives.
func (s *MonitoringService) SLOBreaches(ctx context.Context) ([]*models.SLO, error) {
	return s.reporter.SLOBreaches(ctx)
}

// QueryAudit returns one page of ledger entries, masked unless viewer is an admin.
func (s *MonitoringService) QueryAudit(ctx context.Context, filter models.AuditFilter, page models.PageRequest, viewer models.Actor) (models.Page[*models.AuditEntry], error) {
	result, err := s.ledger.Query(ctx, filter, page.Normalize(s.paging.AuditDefault, s.paging.Max))
	if err != nil {
		return models.Page[*models.AuditEntry]{}, err
	}
	result.Data = audit.MaskForRole(result.Data, viewer.Role)
	return result, nil
}

// AuditActions lists the action names usable as audit filters.
func (s *MonitoringService) AuditActions() []models.AuditAction {
	out := make([]models.AuditAction, 0, len(engineActions)+len(governanceActions))
	out = append(out, engineActions...)
	return append(out, governanceActions...)
}

// Overview returns the cached dashboard overview.
func (s *MonitoringService) Overview(ctx context.Context) (reporting.Overview, error) {
	return s.reporter.Overview(ctx)
}

// AlertStats summarises alerts created since a point in time.
func (s *MonitoringService) AlertStats(ctx context.Context, since time.Time) (reporting.AlertStats, error) {
	return s.reporter.AlertStats(ctx, since)
}

// IncidentStats summarises incidents.
func (s *MonitoringService) IncidentStats(ctx context.Context) (reporting.IncidentStats, error) {
	return s.reporter.IncidentStats(ctx)
}

// AuditBreakdown groups ledger activity by action and role.
func (s *MonitoringService) AuditBreakdown(ctx context.Context, start, end time.Time) (reporting.AuditBreakdown, error) {
	return s.reporter.AuditBreakdown(ctx, start, end)
}

// Hotspots lists recurring (model, rule) alert patterns.
func (s *MonitoringService) Hotspots(ctx context.Context, since time.Time, minOccurrences int) ([]models.AlertPattern, error) {
	return s.reporter.Hotspots(ctx, since, minOccurrences)
}

// ComplianceReport builds the report bundle for [start, end) and records the export.
func (s *MonitoringService) ComplianceReport(ctx context.Context, start, end time.Time, actor models.Actor) (reporting.ComplianceReport, error) {
	report, err := s.reporter.ComplianceReport(ctx, start, end)
	if err != nil {
		return reporting.ComplianceReport{}, err
	}
	report.AuditEntries = audit.MaskForRole(report.AuditEntries, actor.Role)
	s.ledger.Record(ctx, models.ActionExportInitiated, actor,
		fmt.Sprintf("Compliance report export (json): %d audit records", len(report.AuditEntries)))
	return report, nil
}

func formatValue(v float64) string {
	return fmt.Sprintf("%g", models.Round4(v))
}
