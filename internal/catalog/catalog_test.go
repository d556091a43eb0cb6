package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

func TestDefaultsSplitByFamily(t *testing.T) {
	c := New(Defaults(time.Now()))

	if got := len(c.List(models.ModelFilter{})); got != 7 {
		t.Fatalf("expected 7 default models, got %d", got)
	}
	if got := len(c.List(models.ModelFilter{Type: models.ModelTypeML})); got != 4 {
		t.Fatalf("expected 4 ml models, got %d", got)
	}
	if got := len(c.List(models.ModelFilter{Type: models.ModelTypeLLM})); got != 3 {
		t.Fatalf("expected 3 llm models, got %d", got)
	}
	staging := c.List(models.ModelFilter{Environment: "staging"})
	if len(staging) != 2 {
		t.Fatalf("expected 2 staging models, got %d", len(staging))
	}
}

func TestGetUnknownModel(t *testing.T) {
	c := New(Defaults(time.Now()))
	if _, err := c.Get("nope"); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	m, err := c.Get("fraud-detection-v3")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if m.Name != "Fraud Detection v3.2" {
		t.Fatalf("unexpected model: %+v", m)
	}
}

func TestCountByType(t *testing.T) {
	c := New(Defaults(time.Now()))
	counts := c.CountByType()
	if len(counts) != 2 || counts[0].Type != models.ModelTypeLLM || counts[0].Count != 3 || counts[1].Count != 4 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}
