package models

import "time"

// ModelType distinguishes classic ML models from LLM deployments.
type ModelType string

const (
	ModelTypeML  ModelType = "ml"
	ModelTypeLLM ModelType = "llm"
)

var (
	mlMetricTypes  = []string{"accuracy", "precision", "recall", "f1_score", "latency", "throughput", "drift_score", "data_quality"}
	llmMetricTypes = []string{"token_usage", "latency", "hallucination_rate", "toxicity_score", "cost_per_request", "throughput", "context_relevance"}
)

// MetricTypes returns the default metric family for the model type.
func (t ModelType) MetricTypes() []string {
	switch t {
	case ModelTypeLLM:
		return append([]string(nil), llmMetricTypes...)
	case ModelTypeML:
		return append([]string(nil), mlMetricTypes...)
	default:
		return nil
	}
}

// Valid reports whether t is a known model type.
func (t ModelType) Valid() bool {
	return t == ModelTypeML || t == ModelTypeLLM
}

// Model is a deployed model registered for monitoring.
type Model struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Type        ModelType `json:"type" yaml:"type"`
	Environment string    `json:"environment" yaml:"environment"`
	Status      string    `json:"status" yaml:"status"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Version     string    `json:"version,omitempty" yaml:"version"`
	CreatedAt   time.Time `json:"created_at" yaml:"createdAt"`
}

// MetricPoint is one immutable observation for a model.
type MetricPoint struct {
	ID                string    `json:"id" bson:"_id"`
	ModelID           string    `json:"model_id" bson:"model_id"`
	MetricType        string    `json:"metric_type" bson:"metric_type"`
	Value             float64   `json:"value" bson:"value"`
	Timestamp         time.Time `json:"timestamp" bson:"timestamp"`
	Environment       string    `json:"environment" bson:"environment"`
	SourceSystem      string    `json:"source_system,omitempty" bson:"source_system,omitempty"`
	IngestionTime     time.Time `json:"ingestion_time" bson:"ingestion_time"`
	AggregationMethod string    `json:"aggregation_method,omitempty" bson:"aggregation_method,omitempty"`
	RetentionPolicy   string    `json:"retention_policy,omitempty" bson:"retention_policy,omitempty"`
}

// AggregatedBucket summarises the points falling into one fixed-width bucket.
type AggregatedBucket struct {
	BucketStart time.Time `json:"bucket_start"`
	Avg         float64   `json:"avg"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Count       int       `json:"count"`
}

// MetricQuery selects a single series over a half-open time range. Zero bounds are open.
type MetricQuery struct {
	ModelID    string
	MetricType string
	Start      time.Time
	End        time.Time
}

// Contains reports whether ts falls inside [Start, End).
func (q MetricQuery) Contains(ts time.Time) bool {
	if !q.Start.IsZero() && ts.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !ts.Before(q.End) {
		return false
	}
	return true
}
