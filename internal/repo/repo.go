package repo

import (
	"context"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

// MetricRepository stores immutable metric points per (model, metric type) series.
type MetricRepository interface {
	AppendMetric(ctx context.Context, point models.MetricPoint) error
	// ScanMetrics returns the points of one series inside the query range, oldest first.
	ScanMetrics(ctx context.Context, q models.MetricQuery) ([]models.MetricPoint, error)
	// LatestMetric returns the most recent point of a series; ok is false for an empty series.
	LatestMetric(ctx context.Context, modelID, metricType string) (models.MetricPoint, bool, error)
}

// AlertRepository stores alerts. InsertAlert must fail with utils.ErrConflict when another
// non-resolved alert already holds the same dedup key.
type AlertRepository interface {
	InsertAlert(ctx context.Context, alert *models.Alert) error
	UpdateAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	FindOpenAlert(ctx context.Context, dedupKey string) (*models.Alert, bool, error)
	// ListAlerts returns matching alerts, newest first.
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error)
}

// IncidentRepository stores incidents.
type IncidentRepository interface {
	InsertIncident(ctx context.Context, incident *models.Incident) error
	UpdateIncident(ctx context.Context, incident *models.Incident) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error)
}

// SLORepository stores SLO primitives. Derived fields are never persisted.
type SLORepository interface {
	InsertSLO(ctx context.Context, slo *models.SLO) error
	UpdateSLO(ctx context.Context, slo *models.SLO) error
	GetSLO(ctx context.Context, id string) (*models.SLO, error)
	ListSLOs(ctx context.Context, filter models.SLOFilter) ([]*models.SLO, error)
}

// AuditRepository is append-only; entries are never updated or deleted.
type AuditRepository interface {
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	// QueryAudit returns matching entries, newest first.
	QueryAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)
}

// Store bundles one repository per entity.
type Store struct {
	Metrics   MetricRepository
	Alerts    AlertRepository
	Incidents IncidentRepository
	SLOs      SLORepository
	Audit     AuditRepository

	closer func(context.Context) error
}

// Close releases the backing storage, if any.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer(ctx)
}

// NewMemoryStore returns a Store backed entirely by process memory.
func NewMemoryStore() *Store {
	return &Store{
		Metrics:   NewMemoryMetrics(),
		Alerts:    NewMemoryAlerts(),
		Incidents: NewMemoryIncidents(),
		SLOs:      NewMemorySLOs(),
		Audit:     NewMemoryAudit(),
	}
}
