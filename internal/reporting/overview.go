package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/cache"
	"github.com/miradorstack/mirador-modelwatch/internal/catalog"
	"github.com/miradorstack/mirador-modelwatch/internal/metrics"
	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

var overviewCacheKey = cache.Key("overview")

var riskWeights = map[models.Severity]int{
	models.SeverityCritical: 40,
	models.SeverityHigh:     25,
	models.SeverityMedium:   10,
	models.SeverityLow:      5,
}

// HourCount is the number of alerts created in one hour.
type HourCount struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

// HourLatency is the mean latency observed across models in one hour.
type HourLatency struct {
	Hour       time.Time `json:"hour"`
	AvgLatency float64   `json:"avg_latency"`
}

// Trends holds the trailing 24 hourly buckets.
type Trends struct {
	AlertsOverTime []HourCount   `json:"alerts_over_time"`
	LatencyTrend   []HourLatency `json:"latency_trend"`
}

// Overview is the dashboard headline view.
type Overview struct {
	RiskScore      int                 `json:"risk_score"`
	ActiveAlerts   int                 `json:"active_alerts"`
	CriticalAlerts int                 `json:"critical_alerts"`
	HighAlerts     int                 `json:"high_alerts"`
	SystemHealth   int                 `json:"system_health"`
	TotalModels    int                 `json:"total_models"`
	ActiveModels   int                 `json:"active_models"`
	ModelsByType   []catalog.TypeCount `json:"models_by_type"`
	Trends         Trends              `json:"trends"`
	LastUpdated    time.Time           `json:"last_updated"`
}

// RiskScore weights unresolved alerts by severity, capped at 100.
func RiskScore(alerts []*models.Alert) int {
	score := 0
	for _, a := range alerts {
		if a.Status == models.AlertResolved {
			continue
		}
		score += riskWeights[a.Severity]
	}
	if score > 100 {
		return 100
	}
	return score
}

// Overview returns the cached overview, computing it at most once per expiry.
func (r *Reporter) Overview(ctx context.Context) (Overview, error) {
	if cached, ok := r.cachedOverview(ctx); ok {
		metrics.OverviewCache(true)
		return cached, nil
	}
	metrics.OverviewCache(false)

	v, err, _ := r.group.Do(overviewCacheKey, func() (any, error) {
		gen := r.generation.Load()
		ov, err := r.computeOverview(ctx)
		if err != nil {
			return Overview{}, err
		}
		if r.generation.Load() != gen {
			return ov, nil
		}
		if data, err := json.Marshal(ov); err == nil {
			if err := r.cache.Set(ctx, overviewCacheKey, data, r.overviewTTL); err != nil {
				r.logger.Warn("overview cache set failed", slog.Any("error", err))
			}
		}
		return ov, nil
	})
	if err != nil {
		return Overview{}, err
	}
	return v.(Overview), nil
}

func (r *Reporter) cachedOverview(ctx context.Context) (Overview, bool) {
	data, err := r.cache.Get(ctx, overviewCacheKey)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn("overview cache get failed", slog.Any("error", err))
		}
		return Overview{}, false
	}
	var ov Overview
	if err := json.Unmarshal(data, &ov); err != nil {
		r.logger.Warn("overview cache entry unreadable", slog.Any("error", err))
		return Overview{}, false
	}
	return ov, true
}

// InvalidateOverview drops the cached overview.
func (r *Reporter) InvalidateOverview(ctx context.Context) {
	r.generation.Add(1)
	if err := r.cache.Del(ctx, overviewCacheKey); err != nil {
		r.logger.Warn("overview cache invalidation failed", slog.Any("error", err))
	}
}

// WatchInvalidations drops the cached overview for every event received until ctx ends
// or the channel closes.
func (r *Reporter) WatchInvalidations(ctx context.Context, events <-chan models.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			r.logger.Debug("overview invalidated", slog.String("event", string(evt.Type)))
			r.InvalidateOverview(ctx)
		}
	}
}

func (r *Reporter) computeOverview(ctx context.Context) (Overview, error) {
	now := r.now().UTC()
	from := now.Add(-DefaultRange)

	alerts, err := r.src.Alerts.List(ctx, models.AlertFilter{})
	if err != nil {
		return Overview{}, err
	}

	ov := Overview{RiskScore: RiskScore(alerts), LastUpdated: now}
	for _, a := range alerts {
		if a.Status == models.AlertResolved {
			continue
		}
		ov.ActiveAlerts++
		switch a.Severity {
		case models.SeverityCritical:
			ov.CriticalAlerts++
		case models.SeverityHigh:
			ov.HighAlerts++
		}
	}

	all := r.src.Models.List(models.ModelFilter{})
	ov.TotalModels = len(all)
	for _, m := range all {
		if m.Status == "active" {
			ov.ActiveModels++
		}
	}
	if ov.TotalModels > 0 {
		ov.SystemHealth = int(math.Round(float64(ov.ActiveModels) / float64(ov.TotalModels) * 100))
	}
	ov.ModelsByType = r.src.Models.CountByType()

	ov.Trends.AlertsOverTime = make([]HourCount, 24)
	for h := range ov.Trends.AlertsOverTime {
		ov.Trends.AlertsOverTime[h].Hour = from.Add(time.Duration(h) * time.Hour)
	}
	for _, a := range alerts {
		if idx, ok := hourIndex(from, a.CreatedAt); ok {
			ov.Trends.AlertsOverTime[idx].Count++
		}
	}

	var sums [24]float64
	var counts [24]int
	for _, m := range all {
		points, err := r.src.Metrics.Query(ctx, m.ID, "latency", from, now)
		if err != nil {
			return Overview{}, err
		}
		for _, p := range points {
			if idx, ok := hourIndex(from, p.Timestamp); ok {
				sums[idx] += p.Value
				counts[idx]++
			}
		}
	}
	ov.Trends.LatencyTrend = make([]HourLatency, 24)
	for h := range ov.Trends.LatencyTrend {
		ov.Trends.LatencyTrend[h].Hour = from.Add(time.Duration(h) * time.Hour)
		if counts[h] > 0 {
			ov.Trends.LatencyTrend[h].AvgLatency = math.Round(sums[h]/float64(counts[h])*100) / 100
		}
	}
	return ov, nil
}

func hourIndex(from, ts time.Time) (int, bool) {
	if ts.Before(from) {
		return 0, false
	}
	idx := int(ts.Sub(from) / time.Hour)
	if idx >= 24 {
		return 0, false
	}
	return idx, true
}
