package metricstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

func TestAnomaliesFlagsAccuracyDrop(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 15; i++ {
		v := 0.95
		if i == 12 {
			v = 0.5
		}
		require.NoError(t, s.Append(ctx, point("fraud", "accuracy", v, base.Add(time.Duration(i)*time.Minute))))
	}

	found, err := s.Anomalies(ctx, "fraud", "accuracy", base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 0.5, found[0].Value)
	assert.Less(t, found[0].Score, -DefaultAnomalyThreshold)
	assert.Equal(t, DefaultAnomalyThreshold, found[0].Threshold)
	assert.Equal(t, base.Add(12*time.Minute), found[0].Timestamp)
}

func TestDetectAnomaliesFlatSeries(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	series := []models.MetricPoint{
		point("fraud", "latency", 100, base),
		point("fraud", "latency", 100, base.Add(time.Minute)),
	}
	assert.Empty(t, DetectAnomalies(series, 1))
	assert.Nil(t, DetectAnomalies(nil, 1))
}

func TestAnomaliesUnknownModel(t *testing.T) {
	_, err := newStore().Anomalies(context.Background(), "missing", "latency", time.Time{}, time.Now(), 2)
	require.Error(t, err)
}
