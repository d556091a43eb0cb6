package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-modelwatch/internal/alerts"
	"github.com/miradorstack/mirador-modelwatch/internal/catalog"
	"github.com/miradorstack/mirador-modelwatch/internal/metricstore"
	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingPublisher) Publish(_ context.Context, evt models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingPublisher) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Type
	}
	return out
}

type pipelineFixture struct {
	pipeline *Pipeline
	metrics  *repo.MemoryMetrics
	alerts   *alerts.Manager
	events   *recordingPublisher
}

func newPipelineFixture(t *testing.T) pipelineFixture {
	t.Helper()
	cat := catalog.New([]models.Model{fraudModel})
	metrics := repo.NewMemoryMetrics()
	manager := alerts.NewManager(repo.NewMemoryAlerts(), utils.DiscardLogger())
	rules, err := NewRuleEngine("", utils.DiscardLogger())
	require.NoError(t, err)
	events := &recordingPublisher{}
	p := NewPipeline(utils.DiscardLogger(), cat, metricstore.New(metrics, cat), rules, manager, events)
	return pipelineFixture{pipeline: p, metrics: metrics, alerts: manager, events: events}
}

func TestIngestBreachOpensSingleAlert(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t)

	first, err := fx.pipeline.Ingest(ctx, models.IngestRequest{ModelID: "fraud", MetricType: "accuracy", Value: models.Float64(0.85)})
	require.NoError(t, err)
	require.NotNil(t, first.Alert)
	assert.True(t, first.AlertCreated)
	assert.Equal(t, models.AlertOpen, first.Alert.Status)
	assert.Equal(t, 0.85, first.Alert.Evidence().ObservedValue)
	assert.Equal(t, 0.90, first.Alert.Evidence().Threshold)

	second, err := fx.pipeline.Ingest(ctx, models.IngestRequest{ModelID: "fraud", MetricType: "accuracy", Value: models.Float64(0.80)})
	require.NoError(t, err)
	require.NotNil(t, second.Alert)
	assert.False(t, second.AlertCreated)
	assert.True(t, second.DuplicateSuppressed)
	assert.Equal(t, first.Alert.ID, second.Alert.ID)

	open, err := fx.alerts.List(ctx, models.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	assert.Equal(t, []models.EventType{
		models.EventMetricIngested, models.EventAlertCreated, models.EventMetricIngested,
	}, fx.events.types())
}

func TestIngestHealthyValueStoresPointOnly(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t)
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	result, err := fx.pipeline.Ingest(ctx, models.IngestRequest{ModelID: "fraud", MetricType: "accuracy", Value: models.Float64(0.95), Timestamp: ts})
	require.NoError(t, err)
	assert.Nil(t, result.Alert)
	assert.Equal(t, "production", result.Point.Environment)
	assert.Equal(t, "raw", result.Point.AggregationMethod)
	assert.Equal(t, "standard", result.Point.RetentionPolicy)
	assert.Equal(t, ts, result.Point.Timestamp)
	assert.NotEmpty(t, result.Point.ID)

	points, err := fx.metrics.ScanMetrics(ctx, models.MetricQuery{ModelID: "fraud", MetricType: "accuracy"})
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestIngestValidation(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t)

	cases := []struct {
		name string
		req  models.IngestRequest
		kind error
	}{
		{"missing model", models.IngestRequest{MetricType: "accuracy", Value: models.Float64(1)}, utils.ErrValidation},
		{"missing type", models.IngestRequest{ModelID: "fraud", Value: models.Float64(1)}, utils.ErrValidation},
		{"missing value", models.IngestRequest{ModelID: "fraud", MetricType: "accuracy"}, utils.ErrValidation},
		{"nan", models.IngestRequest{ModelID: "fraud", MetricType: "accuracy", Value: models.Float64(math.NaN())}, utils.ErrValidation},
		{"inf", models.IngestRequest{ModelID: "fraud", MetricType: "latency", Value: models.Float64(math.Inf(1))}, utils.ErrValidation},
		{"unknown model", models.IngestRequest{ModelID: "ghost", MetricType: "accuracy", Value: models.Float64(0.1)}, utils.ErrNotFound},
	}
	for _, tc := range cases {
		_, err := fx.pipeline.Ingest(ctx, tc.req)
		assert.True(t, errors.Is(err, tc.kind), "%s: %v", tc.name, err)
	}
	assert.Empty(t, fx.events.types())

	for _, metricType := range []string{"accuracy", "latency"} {
		points, err := fx.metrics.ScanMetrics(ctx, models.MetricQuery{ModelID: "fraud", MetricType: metricType})
		require.NoError(t, err)
		assert.Empty(t, points, metricType)
	}
	open, err := fx.alerts.List(ctx, models.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestIngestWithoutValueFromJSON(t *testing.T) {
	var req models.IngestRequest
	require.NoError(t, json.Unmarshal([]byte(`{"model_id":"fraud","metric_type":"accuracy"}`), &req))
	require.Nil(t, req.Value)

	fx := newPipelineFixture(t)
	_, err := fx.pipeline.Ingest(context.Background(), req)
	require.ErrorIs(t, err, utils.ErrValidation)
	assert.Empty(t, fx.events.types())
}
