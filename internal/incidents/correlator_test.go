package incidents

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

type stubAlerts map[string]models.AlertSummary

func (s stubAlerts) Exists(_ context.Context, id string) (bool, error) {
	_, ok := s[id]
	return ok, nil
}

func (s stubAlerts) Summaries(_ context.Context, ids []string) []models.AlertSummary {
	out := make([]models.AlertSummary, 0, len(ids))
	for _, id := range ids {
		if summary, ok := s[id]; ok {
			out = append(out, summary)
		}
	}
	return out
}

var (
	testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lead    = models.Actor{ID: "u-9", Name: "Sam Lead", Role: "admin"}
	known   = stubAlerts{
		"a1": {ID: "a1", Title: "Accuracy Drop Detected", Severity: models.SeverityCritical, Status: models.AlertOpen, ModelName: "Fraud"},
		"a2": {ID: "a2", Title: "High Latency Warning", Severity: models.SeverityHigh, Status: models.AlertAcknowledged, ModelName: "Bot"},
	}
)

func newCorrelator() *Correlator {
	seq := 0
	return NewCorrelator(repo.NewMemoryIncidents(), known, utils.DiscardLogger(),
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("inc-%d", seq) }),
	)
}

func strPtr(s string) *string { return &s }

func TestCreateSeedsTimeline(t *testing.T) {
	c := newCorrelator()
	incident, err := c.Create(context.Background(), models.CreateIncidentRequest{
		Title:        "Fraud model degradation",
		Severity:     models.SeverityHigh,
		LinkedAlerts: []string{"a1", "a1"},
	}, lead)
	require.NoError(t, err)

	assert.Equal(t, models.IncidentOpen, incident.Status)
	assert.Equal(t, []string{"a1"}, incident.LinkedAlerts)
	assert.Nil(t, incident.EndTime)
	require.Len(t, incident.Timeline, 1)
	assert.Equal(t, "Incident Created", incident.Timeline[0].Event)
	assert.Equal(t, "Sam Lead", incident.Timeline[0].User)
	assert.Equal(t, "u-9", incident.CreatedBy)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	c := newCorrelator()

	_, err := c.Create(ctx, models.CreateIncidentRequest{Title: "  "}, lead)
	assert.True(t, errors.Is(err, utils.ErrValidation))

	_, err = c.Create(ctx, models.CreateIncidentRequest{Title: "x", Severity: "urgent"}, lead)
	assert.True(t, errors.Is(err, utils.ErrValidation))

	_, err = c.Create(ctx, models.CreateIncidentRequest{Title: "x", LinkedAlerts: []string{"ghost"}}, lead)
	assert.True(t, errors.Is(err, utils.ErrNotFound))

	incident, err := c.Create(ctx, models.CreateIncidentRequest{Title: "x"}, lead)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityMedium, incident.Severity)
}

func TestLinkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newCorrelator()
	incident, err := c.Create(ctx, models.CreateIncidentRequest{Title: "x", LinkedAlerts: []string{"a1"}}, lead)
	require.NoError(t, err)

	updated, added, err := c.Link(ctx, incident.ID, "a2", lead)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"a1", "a2"}, updated.LinkedAlerts)
	assert.Len(t, updated.Timeline, 2)

	again, added, err := c.Link(ctx, incident.ID, "a2", lead)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []string{"a1", "a2"}, again.LinkedAlerts)
	assert.Len(t, again.Timeline, 2)

	_, _, err = c.Link(ctx, incident.ID, "ghost", lead)
	assert.True(t, errors.Is(err, utils.ErrNotFound))
	_, _, err = c.Link(ctx, "missing", "a1", lead)
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestCloseRequiresRootCause(t *testing.T) {
	ctx := context.Background()
	c := newCorrelator()
	incident, err := c.Create(ctx, models.CreateIncidentRequest{Title: "x"}, lead)
	require.NoError(t, err)

	_, err = c.Close(ctx, incident.ID, lead)
	require.True(t, errors.Is(err, utils.ErrMissingRootCause))
	current, _ := c.Get(ctx, incident.ID)
	assert.Equal(t, models.IncidentOpen, current.Status)
	assert.Nil(t, current.EndTime)

	_, err = c.UpdateRCA(ctx, incident.ID, models.RCAUpdate{RootCause: strPtr("   ")}, lead)
	require.NoError(t, err)
	_, err = c.Close(ctx, incident.ID, lead)
	require.True(t, errors.Is(err, utils.ErrMissingRootCause), "whitespace root cause is empty")

	_, err = c.UpdateRCA(ctx, incident.ID, models.RCAUpdate{
		RootCause:       strPtr("Upstream feature pipeline dropped a column"),
		MitigationSteps: strPtr("Backfilled feature store"),
		TimelineEntry:   &models.TimelineEntry{Event: "RCA Drafted", Details: "pipeline diff attached"},
	}, lead)
	require.NoError(t, err)

	closed, err := c.Close(ctx, incident.ID, lead)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentClosed, closed.Status)
	require.NotNil(t, closed.EndTime)
	assert.Equal(t, testNow, *closed.EndTime)
	assert.Equal(t, "Sam Lead", closed.ApprovedBy)
	last := closed.Timeline[len(closed.Timeline)-1]
	assert.Equal(t, "Incident Closed", last.Event)
	assert.Equal(t, "RCA Drafted", closed.Timeline[1].Event)
}

func TestClosedIncidentIsFrozen(t *testing.T) {
	ctx := context.Background()
	c := newCorrelator()
	incident, err := c.Create(ctx, models.CreateIncidentRequest{Title: "x"}, lead)
	require.NoError(t, err)
	_, err = c.UpdateRCA(ctx, incident.ID, models.RCAUpdate{RootCause: strPtr("bad deploy")}, lead)
	require.NoError(t, err)
	_, err = c.Close(ctx, incident.ID, lead)
	require.NoError(t, err)

	_, err = c.Close(ctx, incident.ID, lead)
	assert.True(t, errors.Is(err, utils.ErrInvalidTransition))
	_, err = c.UpdateRCA(ctx, incident.ID, models.RCAUpdate{RootCause: strPtr("other")}, lead)
	assert.True(t, errors.Is(err, utils.ErrInvalidTransition))
	_, _, err = c.Link(ctx, incident.ID, "a2", lead)
	assert.True(t, errors.Is(err, utils.ErrInvalidTransition))
}

func TestDetailJoinsAlertSummaries(t *testing.T) {
	ctx := context.Background()
	c := newCorrelator()
	incident, err := c.Create(ctx, models.CreateIncidentRequest{Title: "x", LinkedAlerts: []string{"a1", "a2"}}, lead)
	require.NoError(t, err)

	detail, err := c.Detail(ctx, incident.ID)
	require.NoError(t, err)
	require.Len(t, detail.LinkedAlertDetails, 2)
	assert.Equal(t, "Fraud", detail.LinkedAlertDetails[0].ModelName)
	assert.Equal(t, models.AlertAcknowledged, detail.LinkedAlertDetails[1].Status)
}
