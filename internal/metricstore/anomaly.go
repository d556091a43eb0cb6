package metricstore

import (
	"context"
	"math"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

// DefaultAnomalyThreshold is the z-score above which a point is reported.
const DefaultAnomalyThreshold = 2.5

// Anomaly is a point whose value deviates from the series mean by at least Threshold
// standard deviations. Score is signed: negative for drops.
type Anomaly struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
}

// DetectAnomalies flags points whose absolute z-score reaches threshold.
func DetectAnomalies(series []models.MetricPoint, threshold float64) []Anomaly {
	if len(series) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}

	mean := 0.0
	for _, p := range series {
		mean += p.Value
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, p := range series {
		variance += math.Pow(p.Value-mean, 2)
	}
	variance /= float64(len(series))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		// flat series
		return []Anomaly{}
	}

	out := make([]Anomaly, 0)
	for _, p := range series {
		score := (p.Value - mean) / stdDev
		if math.Abs(score) >= threshold {
			out = append(out, Anomaly{
				Timestamp: p.Timestamp,
				Value:     p.Value,
				Score:     models.Round4(score),
				Threshold: threshold,
			})
		}
	}
	return out
}

// Anomalies scans a series in [start, end) for outliers.
func (s *Store) Anomalies(ctx context.Context, modelID, metricType string, start, end time.Time, threshold float64) ([]Anomaly, error) {
	points, err := s.Query(ctx, modelID, metricType, start, end)
	if err != nil {
		return nil, err
	}
	found := DetectAnomalies(points, threshold)
	if found == nil {
		found = []Anomaly{}
	}
	return found, nil
}
