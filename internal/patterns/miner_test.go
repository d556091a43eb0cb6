package patterns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

type fakePatternStore struct {
	stored int
}

func (f *fakePatternStore) StorePatterns(ctx context.Context, patterns []models.AlertPattern) error {
	f.stored += len(patterns)
	return nil
}

func alertAt(id, modelID, rule string, severity models.Severity, created time.Time, resolvedAfter time.Duration) *models.Alert {
	a := models.NewAlert(id, models.BreachDescriptor{ModelID: modelID, ModelName: "Model " + modelID, Rule: rule, Severity: severity}, created)
	if resolvedAfter > 0 {
		resolved := created.Add(resolvedAfter)
		a.Status = models.AlertResolved
		a.ResolvedAt = &resolved
	}
	return a
}

func TestMinerMinesRecurringRules(t *testing.T) {
	store := &fakePatternStore{}
	miner := NewMiner(nil, store)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	alerts := []*models.Alert{
		alertAt("a1", "fraud", "accuracy < 0.9", models.SeverityCritical, now, 30*time.Minute),
		alertAt("a2", "fraud", "accuracy < 0.9", models.SeverityCritical, now.Add(time.Hour), 90*time.Minute),
		alertAt("a3", "fraud", "accuracy < 0.9", models.SeverityCritical, now.Add(2*time.Hour), 0),
		alertAt("a4", "bot", "latency > 200", models.SeverityHigh, now, 0),
	}

	patterns, err := miner.Mine(context.Background(), alerts, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(patterns))
	}
	top := patterns[0]
	if top.ModelID != "fraud" || top.Occurrences != 3 || top.OpenCount != 1 {
		t.Fatalf("unexpected top pattern: %+v", top)
	}
	if top.MeanMTTR != 60 {
		t.Fatalf("expected mean mttr 60 minutes, got %v", top.MeanMTTR)
	}
	if top.Prevalence != 0.75 {
		t.Fatalf("expected prevalence 0.75, got %v", top.Prevalence)
	}
	if !top.LastSeen.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("unexpected last seen %v", top.LastSeen)
	}
	if len(top.ByStatus) != 2 || top.ByStatus[0].Label != "resolved" || top.ByStatus[0].Count != 2 {
		t.Fatalf("unexpected status breakdown: %+v", top.ByStatus)
	}
	if store.stored != 2 {
		t.Fatalf("expected patterns to be stored, got %d", store.stored)
	}
}

func TestMinerMinimumOccurrences(t *testing.T) {
	now := time.Now()
	alerts := []*models.Alert{
		alertAt("a1", "fraud", "r1", models.SeverityLow, now, 0),
		alertAt("a2", "fraud", "r1", models.SeverityLow, now, time.Minute),
		alertAt("a3", "bot", "r2", models.SeverityLow, now, 0),
	}
	patterns, err := NewMiner(nil, nil).Mine(context.Background(), alerts, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 1 || patterns[0].Rule != "r1" {
		t.Fatalf("expected only the recurring rule, got %+v", patterns)
	}
}

func TestMinerStoreFailureIsNotFatal(t *testing.T) {
	store := StoreFunc(func(context.Context, []models.AlertPattern) error { return errors.New("down") })
	patterns, err := NewMiner(nil, store).Mine(context.Background(), []*models.Alert{
		alertAt("a1", "fraud", "r1", models.SeverityLow, time.Now(), 0),
	}, 1)
	if err != nil || len(patterns) != 1 {
		t.Fatalf("expected pattern despite store failure, got %v %v", patterns, err)
	}
}
