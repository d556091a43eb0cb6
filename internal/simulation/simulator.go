package simulation

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

var (
	mlSimulated  = []string{"accuracy", "latency", "throughput", "drift_score"}
	llmSimulated = []string{"latency", "token_usage", "hallucination_rate", "cost_per_request"}
)

// Sampler produces plausible observations for catalog models.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler seeds a Sampler; the same seed yields the same sequence.
func NewSampler(seed uint64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// MetricTypes returns the metric types simulated for a model type.
func MetricTypes(t models.ModelType) []string {
	if t == models.ModelTypeLLM {
		return llmSimulated
	}
	return mlSimulated
}

// Next picks a model and one of its metric types and draws a value, rounded to 4 decimals.
func (s *Sampler) Next(catalog []models.Model) (models.IngestRequest, bool) {
	if len(catalog) == 0 {
		return models.IngestRequest{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	model := catalog[s.rng.IntN(len(catalog))]
	types := MetricTypes(model.Type)
	metricType := types[s.rng.IntN(len(types))]
	return models.IngestRequest{
		ModelID:      model.ID,
		MetricType:   metricType,
		Value:        models.Float64(s.value(metricType)),
		Environment:  model.Environment,
		SourceSystem: "simulator",
	}, true
}

// Value draws a value for metricType.
func (s *Sampler) Value(metricType string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value(metricType)
}

func (s *Sampler) value(metricType string) float64 {
	r := s.rng.Float64()
	var v float64
	switch metricType {
	case "accuracy":
		v = 0.88 + r*0.10
	case "latency":
		v = 40 + r*180
	case "throughput":
		v = 700 + r*500
	case "drift_score":
		v = r * 0.35
	case "token_usage":
		v = 400 + r*3500
	case "hallucination_rate":
		v = r * 0.15
	case "cost_per_request":
		v = 0.001 + r*0.012
	default:
		v = r * 100
	}
	return math.Round(v*10000) / 10000
}

// Ingester accepts simulated observations.
type Ingester interface {
	IngestMetric(ctx context.Context, req models.IngestRequest, actor models.Actor) (models.IngestResult, error)
}

// ModelLister lists the models to simulate.
type ModelLister interface {
	List(filter models.ModelFilter) []models.Model
}

// Simulator feeds one random observation into the engine per tick.
type Simulator struct {
	sampler  *Sampler
	target   Ingester
	models   ModelLister
	interval time.Duration
	logger   *slog.Logger
}

// NewSimulator constructs a Simulator.
func NewSimulator(logger *slog.Logger, sampler *Sampler, target Ingester, models ModelLister, interval time.Duration) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{sampler: sampler, target: target, models: models, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("metric simulation started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("metric simulation stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick ingests a single simulated observation.
func (s *Simulator) Tick(ctx context.Context) {
	req, ok := s.sampler.Next(s.models.List(models.ModelFilter{}))
	if !ok {
		return
	}
	res, err := s.target.IngestMetric(ctx, req, models.SystemActor)
	if err != nil {
		s.logger.Warn("simulated ingest failed", slog.String("model_id", req.ModelID), slog.Any("error", err))
		return
	}
	if res.AlertCreated {
		s.logger.Info("simulated breach opened alert",
			slog.String("alert_id", res.Alert.ID),
			slog.String("model_id", req.ModelID),
			slog.String("metric_type", req.MetricType),
			slog.Float64("value", *req.Value),
		)
	}
}
