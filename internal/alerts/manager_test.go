package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

var (
	testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	analyst = models.Actor{ID: "u-1", Name: "Jane Analyst", Role: "analyst"}
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	var seq atomic.Int64
	return NewManager(repo.NewMemoryAlerts(), utils.DiscardLogger(),
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string { return fmt.Sprintf("alert-%d", seq.Add(1)) }),
	)
}

func accuracyBreach(value float64) models.BreachDescriptor {
	return models.BreachDescriptor{
		ModelID:          "fraud",
		ModelName:        "Fraud Detection v3.2",
		MetricType:       "accuracy",
		RuleID:           "accuracy_threshold",
		Rule:             "accuracy < 0.9",
		Severity:         models.SeverityCritical,
		Title:            "Accuracy Drop Detected",
		Message:          "accuracy dropped below 0.9",
		ObservedValue:    value,
		Threshold:        0.9,
		Operator:         "<",
		EvaluationWindow: "instant",
		Timestamp:        testNow,
	}
}

func TestCreateOpensAlertWithInitialTransition(t *testing.T) {
	m := newManager(t)
	alert, created, err := m.Create(context.Background(), accuracyBreach(0.85))
	require.NoError(t, err)
	require.True(t, created)

	assert.Equal(t, models.AlertOpen, alert.Status)
	require.Len(t, alert.StateHistory, 1)
	assert.Nil(t, alert.StateHistory[0].PreviousState)
	assert.Equal(t, models.AlertOpen, alert.StateHistory[0].NewState)
	assert.Equal(t, "system", alert.StateHistory[0].UserID)
	assert.Equal(t, 0.85, alert.Evidence().ObservedValue)
	assert.Equal(t, 0.9, alert.Evidence().Threshold)
}

func TestCreateDeduplicatesOpenAlert(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	first, created, err := m.Create(ctx, accuracyBreach(0.85))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := m.Create(ctx, accuracyBreach(0.80))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0.85, second.Evidence().ObservedValue, "dedup must not refresh evidence")
	assert.Len(t, second.StateHistory, 1)
}

func TestCreateAfterResolveOpensNewAlert(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	first, _, err := m.Create(ctx, accuracyBreach(0.85))
	require.NoError(t, err)

	for _, target := range []models.AlertStatus{models.AlertAcknowledged, models.AlertInvestigating} {
		_, err = m.Transition(ctx, first.ID, target, analyst, "")
		require.NoError(t, err)
	}
	_, err = m.Transition(ctx, first.ID, models.AlertResolved, analyst, "retrained")
	require.NoError(t, err)

	next, created, err := m.Create(ctx, accuracyBreach(0.7))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestConcurrentCreateYieldsSingleAlert(t *testing.T) {
	ctx := context.Background()
	alertsRepo := repo.NewMemoryAlerts()
	m := NewManager(alertsRepo, utils.DiscardLogger())

	const workers = 32
	ids := make([]string, workers)
	var createdCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			alert, created, err := m.Create(ctx, accuracyBreach(0.5+float64(i)/100))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if created {
				createdCount.Add(1)
			}
			ids[i] = alert.ID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), createdCount.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	all, err := alertsRepo.ListAlerts(ctx, models.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// conflictRepo simulates a second process inserting the winning alert first.
type conflictRepo struct {
	*repo.MemoryAlerts
	winner *models.Alert
	once   sync.Once
}

func (c *conflictRepo) InsertAlert(ctx context.Context, alert *models.Alert) error {
	var raced bool
	c.once.Do(func() {
		raced = true
		_ = c.MemoryAlerts.InsertAlert(ctx, c.winner)
	})
	if raced {
		return utils.NewAppError("test", "duplicate", utils.ErrConflict)
	}
	return c.MemoryAlerts.InsertAlert(ctx, alert)
}

func TestCreateReturnsWinnerOnStorageConflict(t *testing.T) {
	winner := models.NewAlert("winner", accuracyBreach(0.6), testNow)
	r := &conflictRepo{MemoryAlerts: repo.NewMemoryAlerts(), winner: winner}
	m := NewManager(r, utils.DiscardLogger())

	alert, created, err := m.Create(context.Background(), accuracyBreach(0.85))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", alert.ID)
}

func TestTransitionWalksLinearLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alert, _, err := m.Create(ctx, accuracyBreach(0.85))
	require.NoError(t, err)

	acked, err := m.Transition(ctx, alert.ID, models.AlertAcknowledged, analyst, "")
	require.NoError(t, err)
	assert.Equal(t, analyst.ID, acked.AssignedTo)
	assert.Nil(t, acked.ResolvedAt)

	_, err = m.Transition(ctx, alert.ID, models.AlertInvestigating, analyst, "looking")
	require.NoError(t, err)

	resolved, err := m.Transition(ctx, alert.ID, models.AlertResolved, analyst, "rolled back model")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, analyst.ID, resolved.ResolvedBy)

	history, err := m.History(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i, want := range models.AlertStatuses {
		assert.Equal(t, want, history[i].NewState)
		if i > 0 {
			require.NotNil(t, history[i].PreviousState)
			assert.Equal(t, models.AlertStatuses[i-1], *history[i].PreviousState)
		}
	}
	assert.Equal(t, "rolled back model", history[3].Comment)
}

func TestTransitionRejectsSkipsAndBackwardMoves(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alert, _, err := m.Create(ctx, accuracyBreach(0.85))
	require.NoError(t, err)

	for _, target := range []models.AlertStatus{models.AlertOpen, models.AlertInvestigating, models.AlertResolved} {
		comment := "note"
		_, err := m.Transition(ctx, alert.ID, target, analyst, comment)
		assert.True(t, errors.Is(err, utils.ErrInvalidTransition), "open -> %s: %v", target, err)
	}

	_, err = m.Transition(ctx, alert.ID, models.AlertAcknowledged, analyst, "")
	require.NoError(t, err)
	_, err = m.Transition(ctx, alert.ID, models.AlertAcknowledged, analyst, "")
	assert.True(t, errors.Is(err, utils.ErrInvalidTransition))
	_, err = m.Transition(ctx, alert.ID, models.AlertOpen, analyst, "")
	assert.True(t, errors.Is(err, utils.ErrInvalidTransition))

	history, _ := m.History(ctx, alert.ID)
	assert.Len(t, history, 2, "failed transitions must not append history")
}

func TestResolveRequiresComment(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alert, _, err := m.Create(ctx, accuracyBreach(0.85))
	require.NoError(t, err)
	_, err = m.Transition(ctx, alert.ID, models.AlertAcknowledged, analyst, "")
	require.NoError(t, err)
	_, err = m.Transition(ctx, alert.ID, models.AlertInvestigating, analyst, "")
	require.NoError(t, err)

	for _, comment := range []string{"", "   ", "\t\n"} {
		_, err = m.Transition(ctx, alert.ID, models.AlertResolved, analyst, comment)
		assert.True(t, errors.Is(err, utils.ErrMissingComment), "comment %q: %v", comment, err)
	}
	current, _ := m.Get(ctx, alert.ID)
	assert.Equal(t, models.AlertInvestigating, current.Status)
}

func TestEvidenceImmutableAcrossTransitions(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alert, _, err := m.Create(ctx, accuracyBreach(0.85))
	require.NoError(t, err)

	before, err := m.Evidence(ctx, alert.ID)
	require.NoError(t, err)

	_, _ = m.Transition(ctx, alert.ID, models.AlertAcknowledged, analyst, "")
	_, _ = m.Transition(ctx, alert.ID, models.AlertResolved, analyst, "")
	_, _ = m.Transition(ctx, alert.ID, models.AlertInvestigating, analyst, "")
	_, _ = m.Transition(ctx, alert.ID, models.AlertResolved, analyst, "done")

	after, err := m.Evidence(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUnknownAlertIsNotFound(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	_, err := m.Transition(ctx, "missing", models.AlertAcknowledged, analyst, "")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
	_, err = m.Evidence(ctx, "missing")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
	_, err = m.History(ctx, "missing")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestConcurrentTransitionsSerialized(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alert, _, err := m.Create(ctx, accuracyBreach(0.85))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Transition(ctx, alert.ID, models.AlertAcknowledged, analyst, ""); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	history, _ := m.History(ctx, alert.ID)
	assert.Len(t, history, 2)
}

func TestSummariesSkipUnknownIDs(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	alert, _, err := m.Create(ctx, accuracyBreach(0.85))
	require.NoError(t, err)

	summaries := m.Summaries(ctx, []string{alert.ID, "ghost"})
	require.Len(t, summaries, 1)
	assert.Equal(t, models.AlertSummary{
		ID: alert.ID, Title: "Accuracy Drop Detected", Severity: models.SeverityCritical,
		Status: models.AlertOpen, ModelName: "Fraud Detection v3.2",
	}, summaries[0])
}
