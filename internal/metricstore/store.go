package metricstore

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

// ModelLookup resolves model ids to catalog entries.
type ModelLookup interface {
	Get(id string) (models.Model, error)
}

// Store appends metric points and answers range and bucket queries over them.
type Store struct {
	repo    repo.MetricRepository
	catalog ModelLookup
}

// New constructs a Store.
func New(metrics repo.MetricRepository, catalog ModelLookup) *Store {
	return &Store{repo: metrics, catalog: catalog}
}

// Append stores a point once the model is known to exist.
func (s *Store) Append(ctx context.Context, point models.MetricPoint) error {
	if _, err := s.catalog.Get(point.ModelID); err != nil {
		return err
	}
	return s.repo.AppendMetric(ctx, point)
}

// Query returns the raw points of a series in [start, end), oldest first.
func (s *Store) Query(ctx context.Context, modelID, metricType string, start, end time.Time) ([]models.MetricPoint, error) {
	if _, err := s.catalog.Get(modelID); err != nil {
		return nil, err
	}
	return s.repo.ScanMetrics(ctx, models.MetricQuery{ModelID: modelID, MetricType: metricType, Start: start, End: end})
}

// Aggregate buckets a series by floor(timestamp / width). Empty buckets are omitted.
func (s *Store) Aggregate(ctx context.Context, modelID, metricType string, start, end time.Time, width time.Duration) ([]models.AggregatedBucket, error) {
	if width <= 0 {
		return nil, utils.Invalid("metricstore.Aggregate", "bucket width must be positive")
	}
	points, err := s.Query(ctx, modelID, metricType, start, end)
	if err != nil {
		return nil, err
	}
	return Bucketize(points, width), nil
}

// LatestByType returns the newest point for each metric type of the model's family.
func (s *Store) LatestByType(ctx context.Context, modelID string) (map[string]models.MetricPoint, error) {
	model, err := s.catalog.Get(modelID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.MetricPoint)
	for _, metricType := range model.Type.MetricTypes() {
		point, ok, err := s.repo.LatestMetric(ctx, modelID, metricType)
		if err != nil {
			return nil, err
		}
		if ok {
			out[metricType] = point
		}
	}
	return out, nil
}

type accumulator struct {
	sum, min, max float64
	count         int
}

// Bucketize groups points into fixed-width buckets keyed on the Unix epoch and returns them
// in ascending order with values rounded to four decimals.
func Bucketize(points []models.MetricPoint, width time.Duration) []models.AggregatedBucket {
	if width <= 0 || len(points) == 0 {
		return nil
	}
	w := width.Milliseconds()
	if w == 0 {
		w = 1
	}
	acc := make(map[int64]*accumulator)
	for _, p := range points {
		key := floorDiv(p.Timestamp.UnixMilli(), w)
		a, ok := acc[key]
		if !ok {
			a = &accumulator{min: math.Inf(1), max: math.Inf(-1)}
			acc[key] = a
		}
		a.sum += p.Value
		a.count++
		a.min = math.Min(a.min, p.Value)
		a.max = math.Max(a.max, p.Value)
	}

	keys := make([]int64, 0, len(acc))
	for k := range acc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]models.AggregatedBucket, 0, len(keys))
	for _, k := range keys {
		a := acc[k]
		out = append(out, models.AggregatedBucket{
			BucketStart: time.UnixMilli(k * w).UTC(),
			Avg:         models.Round4(a.sum / float64(a.count)),
			Min:         models.Round4(a.min),
			Max:         models.Round4(a.max),
			Count:       a.count,
		})
	}
	return out
}

// Summary is the overall shape of a series over a range.
type Summary struct {
	ModelID    string                    `json:"model_id"`
	MetricType string                    `json:"metric_type"`
	Start      time.Time                 `json:"start"`
	End        time.Time                 `json:"end"`
	Avg        float64                   `json:"avg"`
	Min        float64                   `json:"min"`
	Max        float64                   `json:"max"`
	Count      int                       `json:"count"`
	Buckets    []models.AggregatedBucket `json:"buckets"`
}

// Summarize aggregates a series and reports overall statistics alongside the buckets.
func (s *Store) Summarize(ctx context.Context, modelID, metricType string, start, end time.Time, width time.Duration) (Summary, error) {
	if width <= 0 {
		return Summary{}, utils.Invalid("metricstore.Summarize", "bucket width must be positive")
	}
	points, err := s.Query(ctx, modelID, metricType, start, end)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{ModelID: modelID, MetricType: metricType, Start: start, End: end, Buckets: Bucketize(points, width)}
	if summary.Buckets == nil {
		summary.Buckets = []models.AggregatedBucket{}
	}
	if len(points) == 0 {
		return summary, nil
	}
	a := accumulator{min: math.Inf(1), max: math.Inf(-1)}
	for _, p := range points {
		a.sum += p.Value
		a.count++
		a.min = math.Min(a.min, p.Value)
		a.max = math.Max(a.max, p.Value)
	}
	summary.Avg = models.Round4(a.sum / float64(a.count))
	summary.Min = models.Round4(a.min)
	summary.Max = models.Round4(a.max)
	summary.Count = a.count
	return summary, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
