package engine

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

// ModelLookup resolves catalog entries.
type ModelLookup interface {
	Get(id string) (models.Model, error)
}

// MetricSink appends validated points.
type MetricSink interface {
	Append(ctx context.Context, point models.MetricPoint) error
}

// AlertCreator opens or reuses an alert for a breach.
type AlertCreator interface {
	Create(ctx context.Context, breach models.BreachDescriptor) (*models.Alert, bool, error)
}

// Publisher forwards notifications; delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, evt models.Event)
}

// Pipeline runs one observation through store, rules, and alerting.
type Pipeline struct {
	logger  *slog.Logger
	catalog ModelLookup
	store   MetricSink
	rules   *RuleEngine
	alerts  AlertCreator
	events  Publisher
	now     func() time.Time
	newID   func() string
}

// NewPipeline constructs the ingestion pipeline. events may be nil.
func NewPipeline(logger *slog.Logger, catalog ModelLookup, store MetricSink, rules *RuleEngine, alerts AlertCreator, events Publisher) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:  logger,
		catalog: catalog,
		store:   store,
		rules:   rules,
		alerts:  alerts,
		events:  events,
		now:     time.Now,
		newID:   utils.NewID,
	}
}

// SetClock overrides the time source.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Ingest validates and stores an observation, evaluates it, and opens or reuses an alert
// when it breaches. The point is stored even when alerting fails.
func (p *Pipeline) Ingest(ctx context.Context, req models.IngestRequest) (models.IngestResult, error) {
	const op = "engine.Ingest"
	if strings.TrimSpace(req.ModelID) == "" {
		return models.IngestResult{}, utils.Invalid(op, "model_id is required")
	}
	if strings.TrimSpace(req.MetricType) == "" {
		return models.IngestResult{}, utils.Invalid(op, "metric_type is required")
	}
	if req.Value == nil {
		return models.IngestResult{}, utils.Invalid(op, "value is required")
	}
	value := *req.Value
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return models.IngestResult{}, utils.Invalid(op, "value must be a finite number")
	}

	model, err := p.catalog.Get(req.ModelID)
	if err != nil {
		return models.IngestResult{}, err
	}

	now := p.now().UTC()
	point := models.MetricPoint{
		ID:                p.newID(),
		ModelID:           model.ID,
		MetricType:        req.MetricType,
		Value:             value,
		Timestamp:         req.Timestamp.UTC(),
		Environment:       req.Environment,
		SourceSystem:      req.SourceSystem,
		IngestionTime:     now,
		AggregationMethod: "raw",
		RetentionPolicy:   "standard",
	}
	if req.Timestamp.IsZero() {
		point.Timestamp = now
	}
	if point.Environment == "" {
		point.Environment = model.Environment
	}
	if point.SourceSystem == "" {
		point.SourceSystem = "api"
	}

	if err := p.store.Append(ctx, point); err != nil {
		return models.IngestResult{}, err
	}
	result := models.IngestResult{Point: point}
	p.publish(ctx, models.EventMetricIngested, models.MetricIngestedPayload{
		ModelID:   point.ModelID,
		Type:      point.MetricType,
		Value:     point.Value,
		Timestamp: point.Timestamp,
	})

	breach, breached := p.rules.Evaluate(model, point.MetricType, point.Value, point.Timestamp)
	if !breached {
		return result, nil
	}

	alert, created, err := p.alerts.Create(ctx, breach)
	if err != nil {
		return result, err
	}
	result.Alert = alert
	result.AlertCreated = created
	result.DuplicateSuppressed = !created
	if created {
		p.publish(ctx, models.EventAlertCreated, alert)
	}
	return result, nil
}

func (p *Pipeline) publish(ctx context.Context, typ models.EventType, payload any) {
	if p.events == nil {
		return
	}
	p.events.Publish(ctx, models.Event{Type: typ, Timestamp: p.now().UTC(), Payload: payload})
}
