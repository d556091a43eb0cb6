package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

type seriesKey struct {
	modelID    string
	metricType string
}

// series keeps points sorted by timestamp. Appends of in-order points are O(1).
type series struct {
	mu     sync.RWMutex
	points []models.MetricPoint
}

func (s *series) insert(p models.MetricPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.points)
	if n == 0 || !p.Timestamp.Before(s.points[n-1].Timestamp) {
		s.points = append(s.points, p)
		return
	}
	idx := sort.Search(n, func(i int) bool { return s.points[i].Timestamp.After(p.Timestamp) })
	s.points = append(s.points, models.MetricPoint{})
	copy(s.points[idx+1:], s.points[idx:])
	s.points[idx] = p
}

func (s *series) scan(q models.MetricQuery) []models.MetricPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := 0
	if !q.Start.IsZero() {
		lo = sort.Search(len(s.points), func(i int) bool { return !s.points[i].Timestamp.Before(q.Start) })
	}
	hi := len(s.points)
	if !q.End.IsZero() {
		hi = sort.Search(len(s.points), func(i int) bool { return !s.points[i].Timestamp.Before(q.End) })
	}
	if lo >= hi {
		return nil
	}
	return append([]models.MetricPoint(nil), s.points[lo:hi]...)
}

// MemoryMetrics is an in-process MetricRepository. Different series never contend.
type MemoryMetrics struct {
	series sync.Map // seriesKey -> *series
}

// NewMemoryMetrics constructs an empty metric repository.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{}
}

func (m *MemoryMetrics) load(modelID, metricType string, create bool) *series {
	key := seriesKey{modelID: modelID, metricType: metricType}
	if v, ok := m.series.Load(key); ok {
		return v.(*series)
	}
	if !create {
		return nil
	}
	v, _ := m.series.LoadOrStore(key, &series{})
	return v.(*series)
}

// AppendMetric implements MetricRepository.
func (m *MemoryMetrics) AppendMetric(_ context.Context, point models.MetricPoint) error {
	m.load(point.ModelID, point.MetricType, true).insert(point)
	return nil
}

// ScanMetrics implements MetricRepository.
func (m *MemoryMetrics) ScanMetrics(_ context.Context, q models.MetricQuery) ([]models.MetricPoint, error) {
	s := m.load(q.ModelID, q.MetricType, false)
	if s == nil {
		return nil, nil
	}
	return s.scan(q), nil
}

// LatestMetric implements MetricRepository.
func (m *MemoryMetrics) LatestMetric(_ context.Context, modelID, metricType string) (models.MetricPoint, bool, error) {
	s := m.load(modelID, metricType, false)
	if s == nil {
		return models.MetricPoint{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.points) == 0 {
		return models.MetricPoint{}, false, nil
	}
	return s.points[len(s.points)-1], true, nil
}

// MemoryAlerts is an in-process AlertRepository.
type MemoryAlerts struct {
	mu    sync.RWMutex
	byID  map[string]*models.Alert
	open  map[string]string // dedup key -> alert id, only while not resolved
	order []string
}

// NewMemoryAlerts constructs an empty alert repository.
func NewMemoryAlerts() *MemoryAlerts {
	return &MemoryAlerts{byID: make(map[string]*models.Alert), open: make(map[string]string)}
}

// InsertAlert implements AlertRepository.
func (m *MemoryAlerts) InsertAlert(_ context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[alert.ID]; exists {
		return utils.NewAppError("repo.InsertAlert", "alert id already exists", utils.ErrConflict)
	}
	key := alert.DedupKey()
	if alert.Status != models.AlertResolved {
		if _, exists := m.open[key]; exists {
			return utils.NewAppError("repo.InsertAlert", "open alert already exists for "+key, utils.ErrConflict)
		}
		m.open[key] = alert.ID
	}
	m.byID[alert.ID] = alert.Clone()
	m.order = append(m.order, alert.ID)
	return nil
}

// UpdateAlert implements AlertRepository.
func (m *MemoryAlerts) UpdateAlert(_ context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[alert.ID]; !exists {
		return utils.NotFound("repo.UpdateAlert", "alert %s not found", alert.ID)
	}
	key := alert.DedupKey()
	if alert.Status == models.AlertResolved && m.open[key] == alert.ID {
		delete(m.open, key)
	}
	m.byID[alert.ID] = alert.Clone()
	return nil
}

// GetAlert implements AlertRepository.
func (m *MemoryAlerts) GetAlert(_ context.Context, id string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.byID[id]
	if !ok {
		return nil, utils.NotFound("repo.GetAlert", "alert %s not found", id)
	}
	return alert.Clone(), nil
}

// FindOpenAlert implements AlertRepository.
func (m *MemoryAlerts) FindOpenAlert(_ context.Context, dedupKey string) (*models.Alert, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.open[dedupKey]
	if !ok {
		return nil, false, nil
	}
	return m.byID[id].Clone(), true, nil
}

// ListAlerts implements AlertRepository.
func (m *MemoryAlerts) ListAlerts(_ context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Alert, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		alert := m.byID[m.order[i]]
		if filter.Matches(alert) {
			out = append(out, alert.Clone())
		}
	}
	sortNewestFirst(out, func(a *models.Alert) time.Time { return a.CreatedAt })
	return out, nil
}

// MemoryIncidents is an in-process IncidentRepository.
type MemoryIncidents struct {
	mu    sync.RWMutex
	byID  map[string]*models.Incident
	order []string
}

// NewMemoryIncidents constructs an empty incident repository.
func NewMemoryIncidents() *MemoryIncidents {
	return &MemoryIncidents{byID: make(map[string]*models.Incident)}
}

// InsertIncident implements IncidentRepository.
func (m *MemoryIncidents) InsertIncident(_ context.Context, incident *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[incident.ID]; exists {
		return utils.NewAppError("repo.InsertIncident", "incident id already exists", utils.ErrConflict)
	}
	m.byID[incident.ID] = incident.Clone()
	m.order = append(m.order, incident.ID)
	return nil
}

// UpdateIncident implements IncidentRepository.
func (m *MemoryIncidents) UpdateIncident(_ context.Context, incident *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[incident.ID]; !exists {
		return utils.NotFound("repo.UpdateIncident", "incident %s not found", incident.ID)
	}
	m.byID[incident.ID] = incident.Clone()
	return nil
}

// GetIncident implements IncidentRepository.
func (m *MemoryIncidents) GetIncident(_ context.Context, id string) (*models.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	incident, ok := m.byID[id]
	if !ok {
		return nil, utils.NotFound("repo.GetIncident", "incident %s not found", id)
	}
	return incident.Clone(), nil
}

// ListIncidents implements IncidentRepository.
func (m *MemoryIncidents) ListIncidents(_ context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Incident, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		incident := m.byID[m.order[i]]
		if filter.Matches(incident) {
			out = append(out, incident.Clone())
		}
	}
	sortNewestFirst(out, func(i *models.Incident) time.Time { return i.StartTime })
	return out, nil
}

// MemorySLOs is an in-process SLORepository.
type MemorySLOs struct {
	mu    sync.RWMutex
	byID  map[string]*models.SLO
	order []string
}

// NewMemorySLOs constructs an empty SLO repository.
func NewMemorySLOs() *MemorySLOs {
	return &MemorySLOs{byID: make(map[string]*models.SLO)}
}

// InsertSLO implements SLORepository.
func (m *MemorySLOs) InsertSLO(_ context.Context, slo *models.SLO) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[slo.ID]; exists {
		return utils.NewAppError("repo.InsertSLO", "slo id already exists", utils.ErrConflict)
	}
	m.byID[slo.ID] = slo.Clone()
	m.order = append(m.order, slo.ID)
	return nil
}

// UpdateSLO implements SLORepository.
func (m *MemorySLOs) UpdateSLO(_ context.Context, slo *models.SLO) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[slo.ID]; !exists {
		return utils.NotFound("repo.UpdateSLO", "slo %s not found", slo.ID)
	}
	m.byID[slo.ID] = slo.Clone()
	return nil
}

// GetSLO implements SLORepository.
func (m *MemorySLOs) GetSLO(_ context.Context, id string) (*models.SLO, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slo, ok := m.byID[id]
	if !ok {
		return nil, utils.NotFound("repo.GetSLO", "slo %s not found", id)
	}
	return slo.Clone(), nil
}

// ListSLOs implements SLORepository.
func (m *MemorySLOs) ListSLOs(_ context.Context, filter models.SLOFilter) ([]*models.SLO, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.SLO, 0)
	for _, id := range m.order {
		slo := m.byID[id]
		if filter.Matches(slo) {
			out = append(out, slo.Clone())
		}
	}
	return out, nil
}

// MemoryAudit is an in-process AuditRepository.
type MemoryAudit struct {
	mu      sync.RWMutex
	entries []*models.AuditEntry
}

// NewMemoryAudit constructs an empty ledger.
func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

// AppendAudit implements AuditRepository.
func (m *MemoryAudit) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, entry.Clone())
	m.mu.Unlock()
	return nil
}

// QueryAudit implements AuditRepository.
func (m *MemoryAudit) QueryAudit(_ context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AuditEntry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if filter.Matches(m.entries[i]) {
			out = append(out, m.entries[i].Clone())
		}
	}
	sortNewestFirst(out, func(e *models.AuditEntry) time.Time { return e.Timestamp })
	return out, nil
}

// sortNewestFirst orders by descending timestamp, keeping reverse insertion order for ties.
func sortNewestFirst[T any](items []T, ts func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool { return ts(items[i]).After(ts(items[j])) })
}
