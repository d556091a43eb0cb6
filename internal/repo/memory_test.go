package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

func TestMemoryMetricsKeepsSeriesOrdered(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMetrics()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, offset := range []int{0, 30, 10, 20} {
		point := models.MetricPoint{ModelID: "m1", MetricType: "accuracy", Value: float64(offset), Timestamp: base.Add(time.Duration(offset) * time.Second)}
		if err := repo.AppendMetric(ctx, point); err != nil {
			t.Fatalf("AppendMetric returned error: %v", err)
		}
	}

	points, err := repo.ScanMetrics(ctx, models.MetricQuery{ModelID: "m1", MetricType: "accuracy"})
	if err != nil {
		t.Fatalf("ScanMetrics returned error: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("expected 4 points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Fatalf("points out of order at %d: %v", i, points)
		}
	}

	latest, ok, err := repo.LatestMetric(ctx, "m1", "accuracy")
	if err != nil || !ok {
		t.Fatalf("LatestMetric failed: ok=%v err=%v", ok, err)
	}
	if latest.Value != 30 {
		t.Fatalf("expected latest value 30, got %v", latest.Value)
	}
}

func TestMemoryMetricsScanHalfOpenRange(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMetrics()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = repo.AppendMetric(ctx, models.MetricPoint{ModelID: "m1", MetricType: "latency", Value: float64(i), Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}

	points, _ := repo.ScanMetrics(ctx, models.MetricQuery{
		ModelID:    "m1",
		MetricType: "latency",
		Start:      base.Add(time.Minute),
		End:        base.Add(3 * time.Minute),
	})
	if len(points) != 2 || points[0].Value != 1 || points[1].Value != 2 {
		t.Fatalf("unexpected range scan result: %+v", points)
	}

	empty, _ := repo.ScanMetrics(ctx, models.MetricQuery{ModelID: "other", MetricType: "latency"})
	if len(empty) != 0 {
		t.Fatalf("expected no points for unknown series, got %d", len(empty))
	}
}

func newTestAlert(id, modelID, rule string, created time.Time) *models.Alert {
	return models.NewAlert(id, models.BreachDescriptor{
		ModelID:   modelID,
		ModelName: "Model " + modelID,
		Rule:      rule,
		Severity:  models.SeverityHigh,
		Title:     "breach",
		Timestamp: created,
	}, created)
}

func TestMemoryAlertsEnforcesOpenDedupKey(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAlerts()
	now := time.Now()

	first := newTestAlert("a1", "m1", "accuracy < 0.9", now)
	if err := repo.InsertAlert(ctx, first); err != nil {
		t.Fatalf("InsertAlert returned error: %v", err)
	}
	second := newTestAlert("a2", "m1", "accuracy < 0.9", now)
	if err := repo.InsertAlert(ctx, second); !errors.Is(err, utils.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	found, ok, err := repo.FindOpenAlert(ctx, first.DedupKey())
	if err != nil || !ok || found.ID != "a1" {
		t.Fatalf("FindOpenAlert mismatch: %+v ok=%v err=%v", found, ok, err)
	}

	resolved := found.Clone()
	resolved.Status = models.AlertResolved
	if err := repo.UpdateAlert(ctx, resolved); err != nil {
		t.Fatalf("UpdateAlert returned error: %v", err)
	}
	if _, ok, _ := repo.FindOpenAlert(ctx, first.DedupKey()); ok {
		t.Fatalf("resolved alert should release its dedup key")
	}
	if err := repo.InsertAlert(ctx, second); err != nil {
		t.Fatalf("InsertAlert after resolve returned error: %v", err)
	}
}

func TestMemoryAlertsReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAlerts()
	alert := newTestAlert("a1", "m1", "latency > 200", time.Now())
	_ = repo.InsertAlert(ctx, alert)

	got, err := repo.GetAlert(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAlert returned error: %v", err)
	}
	got.Status = models.AlertResolved
	got.StateHistory = append(got.StateHistory, models.StateTransition{NewState: models.AlertResolved})

	again, _ := repo.GetAlert(ctx, "a1")
	if again.Status != models.AlertOpen || len(again.StateHistory) != 1 {
		t.Fatalf("stored alert mutated through returned copy: %+v", again)
	}

	if _, err := repo.GetAlert(ctx, "missing"); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryAlertsListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAlerts()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.InsertAlert(ctx, newTestAlert("old", "m1", "r1", base))
	_ = repo.InsertAlert(ctx, newTestAlert("new", "m2", "r1", base.Add(time.Hour)))

	alerts, _ := repo.ListAlerts(ctx, models.AlertFilter{})
	if len(alerts) != 2 || alerts[0].ID != "new" {
		t.Fatalf("expected newest first, got %+v", alerts)
	}

	filtered, _ := repo.ListAlerts(ctx, models.AlertFilter{ModelID: "m1"})
	if len(filtered) != 1 || filtered[0].ID != "old" {
		t.Fatalf("model filter mismatch: %+v", filtered)
	}
}

func TestMemoryAuditNewestFirstAndFiltered(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAudit()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.AppendAudit(ctx, &models.AuditEntry{ID: "1", Action: models.ActionAlertCreated, UserID: "system", Timestamp: base})
	_ = repo.AppendAudit(ctx, &models.AuditEntry{ID: "2", Action: models.ActionAlertResolved, UserID: "u1", Timestamp: base.Add(time.Minute)})
	_ = repo.AppendAudit(ctx, &models.AuditEntry{ID: "3", Action: models.ActionAlertCreated, UserID: "system", Timestamp: base.Add(2 * time.Minute)})

	all, _ := repo.QueryAudit(ctx, models.AuditFilter{})
	if len(all) != 3 || all[0].ID != "3" || all[2].ID != "1" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	created, _ := repo.QueryAudit(ctx, models.AuditFilter{Action: models.ActionAlertCreated, End: base.Add(2 * time.Minute)})
	if len(created) != 1 || created[0].ID != "1" {
		t.Fatalf("filter mismatch: %+v", created)
	}
}
