package catalog

import (
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

// Catalog is the registry of monitored models.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]models.Model
	order  []string
}

// New builds a catalog from the given models. Entries with an empty id are skipped and
// later duplicates replace earlier ones.
func New(entries []models.Model) *Catalog {
	c := &Catalog{models: make(map[string]models.Model, len(entries))}
	for _, m := range entries {
		c.Register(m)
	}
	return c
}

// Register adds or replaces a model.
func (c *Catalog) Register(m models.Model) {
	if m.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.models[m.ID]; !exists {
		c.order = append(c.order, m.ID)
	}
	c.models[m.ID] = m
}

// Get returns the model or a NotFound error.
func (c *Catalog) Get(id string) (models.Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	if !ok {
		return models.Model{}, utils.NotFound("catalog.Get", "model %s not found", id)
	}
	return m, nil
}

// List returns models matching the filter in registration order.
func (c *Catalog) List(filter models.ModelFilter) []models.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Model, 0, len(c.order))
	for _, id := range c.order {
		m := c.models[id]
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.Environment != "" && m.Environment != filter.Environment {
			continue
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		out = append(out, m)
	}
	return out
}

// CountByType tallies models per type, ordered by type name.
func (c *Catalog) CountByType() []TypeCount {
	counts := make(map[models.ModelType]int)
	for _, m := range c.List(models.ModelFilter{}) {
		counts[m.Type]++
	}
	out := make([]TypeCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, TypeCount{Type: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// TypeCount is one row of CountByType.
type TypeCount struct {
	Type  models.ModelType `json:"type"`
	Count int              `json:"count"`
}

// Defaults returns the models monitored out of the box, ages relative to now.
func Defaults(now time.Time) []models.Model {
	daysAgo := func(d int) time.Time { return now.Add(-time.Duration(d) * 24 * time.Hour) }
	return []models.Model{
		{ID: "fraud-detection-v3", Name: "Fraud Detection v3.2", Type: models.ModelTypeML, Environment: "production", Status: "active", Description: "Real-time transaction fraud scoring model", Version: "3.2.1", CreatedAt: daysAgo(90)},
		{ID: "credit-risk-classifier", Name: "Credit Risk Classifier", Type: models.ModelTypeML, Environment: "production", Status: "active", Description: "Consumer credit risk assessment", Version: "2.1.0", CreatedAt: daysAgo(180)},
		{ID: "aml-transaction-monitor", Name: "AML Transaction Monitor", Type: models.ModelTypeML, Environment: "staging", Status: "active", Description: "Anti-money laundering pattern detection", Version: "1.8.3", CreatedAt: daysAgo(60)},
		{ID: "customer-churn-predictor", Name: "Customer Churn Predictor", Type: models.ModelTypeML, Environment: "production", Status: "degraded", Description: "Predicts customer churn probability", Version: "4.0.0", CreatedAt: daysAgo(120)},
		{ID: "customer-support-bot", Name: "Customer Support Bot", Type: models.ModelTypeLLM, Environment: "production", Status: "active", Description: "GPT-4 powered customer service assistant", Version: "2.0.0", CreatedAt: daysAgo(45)},
		{ID: "document-summarizer", Name: "Document Summarizer", Type: models.ModelTypeLLM, Environment: "production", Status: "active", Description: "Legal document summarization pipeline", Version: "1.3.0", CreatedAt: daysAgo(30)},
		{ID: "compliance-qa-engine", Name: "Compliance Q&A Engine", Type: models.ModelTypeLLM, Environment: "staging", Status: "active", Description: "Regulatory compliance query answering", Version: "0.9.1", CreatedAt: daysAgo(15)},
	}
}
