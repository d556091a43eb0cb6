package reporting

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/miradorstack/mirador-modelwatch/internal/cache"
	"github.com/miradorstack/mirador-modelwatch/internal/catalog"
	"github.com/miradorstack/mirador-modelwatch/internal/metricstore"
	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/patterns"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

const (
	// DefaultBucketWidth applies when a summary request does not name one.
	DefaultBucketWidth = time.Hour
	// DefaultRange is the trailing window used when a request has no bounds.
	DefaultRange = 24 * time.Hour
	// DefaultOverviewTTL bounds how stale a cached overview may be.
	DefaultOverviewTTL = 15 * time.Second
)

// AlertSource lists alerts.
type AlertSource interface {
	List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error)
}

// IncidentSource lists incidents.
type IncidentSource interface {
	List(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error)
}

// SLOSource lists SLOs.
type SLOSource interface {
	List(ctx context.Context, filter models.SLOFilter) ([]*models.SLO, error)
	Breaches(ctx context.Context) ([]*models.SLO, error)
}

// AuditSource scans the ledger.
type AuditSource interface {
	Entries(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)
}

// MetricSource summarises metric series.
type MetricSource interface {
	Query(ctx context.Context, modelID, metricType string, start, end time.Time) ([]models.MetricPoint, error)
	Summarize(ctx context.Context, modelID, metricType string, start, end time.Time, width time.Duration) (metricstore.Summary, error)
}

// ModelSource lists catalog entries.
type ModelSource interface {
	List(filter models.ModelFilter) []models.Model
	CountByType() []catalog.TypeCount
}

// Sources groups the read-side collaborators of a Reporter.
type Sources struct {
	Alerts    AlertSource
	Incidents IncidentSource
	SLOs      SLOSource
	Audit     AuditSource
	Metrics   MetricSource
	Models    ModelSource
}

// Reporter answers the read-only statistical queries.
type Reporter struct {
	src         Sources
	cache       cache.Provider
	overviewTTL time.Duration
	miner       *patterns.Miner
	logger      *slog.Logger
	now         func() time.Time
	group       singleflight.Group
	// generation advances on every invalidation; a compute that straddles one is not cached.
	generation atomic.Uint64
}

// Option customises a Reporter.
type Option func(*Reporter)

// WithCache stores overviews in provider for ttl.
func WithCache(provider cache.Provider, ttl time.Duration) Option {
	return func(r *Reporter) {
		if provider != nil {
			r.cache = provider
		}
		if ttl > 0 {
			r.overviewTTL = ttl
		}
	}
}

// WithMiner sets the hotspot miner.
func WithMiner(m *patterns.Miner) Option {
	return func(r *Reporter) { r.miner = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// NewReporter constructs a Reporter. Without WithCache the overview is computed on every call.
func NewReporter(src Sources, logger *slog.Logger, opts ...Option) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{
		src:         src,
		cache:       cache.Disabled{},
		overviewTTL: DefaultOverviewTTL,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.miner == nil {
		r.miner = patterns.NewMiner(logger, nil)
	}
	return r
}

// TimeRange resolves optional bounds to [end-DefaultRange, now) style defaults.
func (r *Reporter) TimeRange(start, end time.Time) (time.Time, time.Time, error) {
	if end.IsZero() {
		end = r.now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-DefaultRange)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, utils.Invalid("reporting.TimeRange", "start must be before end")
	}
	return start, end, nil
}

// MetricSummary aggregates one series; zero bounds and width fall back to the defaults.
func (r *Reporter) MetricSummary(ctx context.Context, modelID, metricType string, start, end time.Time, width time.Duration) (metricstore.Summary, error) {
	start, end, err := r.TimeRange(start, end)
	if err != nil {
		return metricstore.Summary{}, err
	}
	if width == 0 {
		width = DefaultBucketWidth
	}
	return r.src.Metrics.Summarize(ctx, modelID, metricType, start, end, width)
}

// Count is one labelled tally.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

func sortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for label, n := range m {
		out = append(out, Count{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// AlertStats summarises alerts created since a point in time.
type AlertStats struct {
	Total            int            `json:"total"`
	Active           int            `json:"active"`
	Resolved         int            `json:"resolved"`
	ByStatus         map[string]int `json:"by_status"`
	ActiveBySeverity map[string]int `json:"active_by_severity"`
	MTTRMinutes      float64        `json:"mttr_minutes"`
}

// AlertStats counts alerts by status and, for unresolved alerts, by severity.
func (r *Reporter) AlertStats(ctx context.Context, since time.Time) (AlertStats, error) {
	alerts, err := r.src.Alerts.List(ctx, models.AlertFilter{Since: since})
	if err != nil {
		return AlertStats{}, err
	}
	stats := AlertStats{ByStatus: make(map[string]int), ActiveBySeverity: make(map[string]int)}
	for _, s := range models.AlertStatuses {
		stats.ByStatus[string(s)] = 0
	}
	for _, s := range models.Severities {
		stats.ActiveBySeverity[string(s)] = 0
	}
	var mttr float64
	for _, a := range alerts {
		stats.Total++
		stats.ByStatus[string(a.Status)]++
		if a.Status != models.AlertResolved {
			stats.Active++
			stats.ActiveBySeverity[string(a.Severity)]++
			continue
		}
		stats.Resolved++
		if a.ResolvedAt != nil {
			mttr += utils.DurationMinutes(a.CreatedAt, *a.ResolvedAt)
		}
	}
	if stats.Resolved > 0 {
		stats.MTTRMinutes = models.Round4(mttr / float64(stats.Resolved))
	}
	return stats, nil
}

// IncidentStats summarises incidents.
type IncidentStats struct {
	Total           int            `json:"total"`
	Open            int            `json:"open"`
	Closed          int            `json:"closed"`
	BySeverity      map[string]int `json:"by_severity"`
	MeanTimeToClose float64        `json:"mean_time_to_close_minutes"`
}

// IncidentStats counts incidents by status and severity.
func (r *Reporter) IncidentStats(ctx context.Context) (IncidentStats, error) {
	incidents, err := r.src.Incidents.List(ctx, models.IncidentFilter{})
	if err != nil {
		return IncidentStats{}, err
	}
	stats := IncidentStats{BySeverity: make(map[string]int)}
	var total float64
	for _, inc := range incidents {
		stats.Total++
		stats.BySeverity[string(inc.Severity)]++
		if inc.Status != models.IncidentClosed {
			stats.Open++
			continue
		}
		stats.Closed++
		if inc.EndTime != nil {
			total += utils.DurationMinutes(inc.StartTime, *inc.EndTime)
		}
	}
	if stats.Closed > 0 {
		stats.MeanTimeToClose = models.Round4(total / float64(stats.Closed))
	}
	return stats, nil
}

// SLOBreaches lists breached SLOs followed by at-risk ones.
func (r *Reporter) SLOBreaches(ctx context.Context) ([]*models.SLO, error) {
	return r.src.SLOs.Breaches(ctx)
}

// AuditBreakdown is ledger activity grouped by action and by role.
type AuditBreakdown struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Total    int       `json:"total"`
	ByAction []Count   `json:"by_action"`
	ByRole   []Count   `json:"by_role"`
}

// AuditBreakdown groups ledger entries in [start, end).
func (r *Reporter) AuditBreakdown(ctx context.Context, start, end time.Time) (AuditBreakdown, error) {
	start, end, err := r.TimeRange(start, end)
	if err != nil {
		return AuditBreakdown{}, err
	}
	entries, err := r.src.Audit.Entries(ctx, models.AuditFilter{Start: start, End: end})
	if err != nil {
		return AuditBreakdown{}, err
	}
	byAction := make(map[string]int)
	byRole := make(map[string]int)
	for _, e := range entries {
		byAction[string(e.Action)]++
		role := e.UserRole
		if role == "" {
			role = "unknown"
		}
		byRole[role]++
	}
	return AuditBreakdown{
		Start:    start,
		End:      end,
		Total:    len(entries),
		ByAction: sortedCounts(byAction),
		ByRole:   sortedCounts(byRole),
	}, nil
}

// Hotspots mines recurring (model, rule) patterns from alerts created since a point in time.
func (r *Reporter) Hotspots(ctx context.Context, since time.Time, minOccurrences int) ([]models.AlertPattern, error) {
	alerts, err := r.src.Alerts.List(ctx, models.AlertFilter{Since: since})
	if err != nil {
		return nil, err
	}
	found, err := r.miner.Mine(ctx, alerts, minOccurrences)
	if err != nil {
		return nil, err
	}
	if found == nil {
		found = []models.AlertPattern{}
	}
	return found, nil
}
