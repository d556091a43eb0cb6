package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

// Operators understood by the threshold table.
const (
	OpLessThan    = "<"
	OpGreaterThan = ">"
)

// InstantWindow marks evidence evaluated against a single observation.
const InstantWindow = "instant"

// Rule is one row of the per-metric threshold table.
type Rule struct {
	Metric    string          `yaml:"metric"`
	Operator  string          `yaml:"operator"`
	Threshold float64         `yaml:"threshold"`
	Severity  models.Severity `yaml:"severity"`
	Title     string          `yaml:"title"`
}

// ID is the stable identifier recorded in evidence.
func (r Rule) ID() string {
	return r.Metric + "_threshold"
}

// String encodes the condition, e.g. "accuracy < 0.9".
func (r Rule) String() string {
	return r.Metric + " " + r.Operator + " " + formatNumber(r.Threshold)
}

// Breached reports whether value violates the rule.
func (r Rule) Breached(value float64) bool {
	switch r.Operator {
	case OpLessThan:
		return value < r.Threshold
	case OpGreaterThan:
		return value > r.Threshold
	}
	return false
}

func (r Rule) validate() error {
	if r.Metric == "" {
		return errors.New("rule metric is required")
	}
	if r.Operator != OpLessThan && r.Operator != OpGreaterThan {
		return fmt.Errorf("rule %s: unsupported operator %q", r.Metric, r.Operator)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule %s: unknown severity %q", r.Metric, r.Severity)
	}
	if r.Title == "" {
		return fmt.Errorf("rule %s: title is required", r.Metric)
	}
	return nil
}

// DefaultRules is the built-in threshold table.
func DefaultRules() []Rule {
	return []Rule{
		{Metric: "accuracy", Operator: OpLessThan, Threshold: 0.90, Severity: models.SeverityCritical, Title: "Accuracy Drop Detected"},
		{Metric: "precision", Operator: OpLessThan, Threshold: 0.85, Severity: models.SeverityHigh, Title: "Precision Below Threshold"},
		{Metric: "recall", Operator: OpLessThan, Threshold: 0.80, Severity: models.SeverityHigh, Title: "Recall Below Threshold"},
		{Metric: "latency", Operator: OpGreaterThan, Threshold: 200, Severity: models.SeverityHigh, Title: "High Latency Warning"},
		{Metric: "drift_score", Operator: OpGreaterThan, Threshold: 0.25, Severity: models.SeverityHigh, Title: "Data Drift Detected"},
		{Metric: "hallucination_rate", Operator: OpGreaterThan, Threshold: 0.10, Severity: models.SeverityCritical, Title: "Hallucination Spike"},
		{Metric: "toxicity_score", Operator: OpGreaterThan, Threshold: 0.03, Severity: models.SeverityCritical, Title: "Toxicity Alert"},
		{Metric: "cost_per_request", Operator: OpGreaterThan, Threshold: 0.008, Severity: models.SeverityMedium, Title: "Cost Overrun"},
		{Metric: "data_quality", Operator: OpLessThan, Threshold: 0.93, Severity: models.SeverityMedium, Title: "Data Quality Issue"},
	}
}

// RuleConfigFile is the YAML root structure for threshold overrides.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// RuleEngine evaluates observations against a fixed per-metric-type table. It holds no
// state beyond the table and is safe for concurrent use.
type RuleEngine struct {
	rules  map[string]Rule
	logger *slog.Logger
}

// NewRuleEngine builds the default table and applies per-metric overrides from path.
// An empty path or a missing file yields the defaults.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine := &RuleEngine{rules: make(map[string]Rule), logger: logger}
	for _, r := range DefaultRules() {
		engine.rules[r.Metric] = r
	}
	if path == "" {
		return engine, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("rule file not found, using defaults", slog.String("path", path))
			return engine, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	for _, r := range cfg.Rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		engine.rules[r.Metric] = r
	}
	logger.Info("threshold rules loaded", slog.String("path", path), slog.Int("overrides", len(cfg.Rules)))
	return engine, nil
}

// Rules returns the table sorted by metric name.
func (e *RuleEngine) Rules() []Rule {
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

// Evaluate returns a breach descriptor when value violates the rule for metricType.
// Metric types absent from the table never breach.
func (e *RuleEngine) Evaluate(model models.Model, metricType string, value float64, at time.Time) (models.BreachDescriptor, bool) {
	rule, ok := e.rules[metricType]
	if !ok || !rule.Breached(value) {
		return models.BreachDescriptor{}, false
	}

	verb := "exceeded"
	if rule.Operator == OpLessThan {
		verb = "dropped below"
	}
	return models.BreachDescriptor{
		ModelID:          model.ID,
		ModelName:        model.Name,
		MetricType:       metricType,
		RuleID:           rule.ID(),
		Rule:             rule.String(),
		Severity:         rule.Severity,
		Title:            rule.Title,
		Message:          fmt.Sprintf("%s %s %s (current: %s)", metricType, verb, formatNumber(rule.Threshold), formatNumber(value)),
		ObservedValue:    value,
		Threshold:        rule.Threshold,
		Operator:         rule.Operator,
		EvaluationWindow: InstantWindow,
		Timestamp:        at,
	}, true
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
