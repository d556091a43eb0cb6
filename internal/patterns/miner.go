package patterns

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, patterns []models.AlertPattern) error
}

// Miner mines recurring (model, rule) breach patterns from alert history.
type Miner struct {
	store  Store
	logger *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger}
}

// Mine groups alerts by dedup key and returns patterns ordered by occurrence count.
// Pairs seen fewer than minOccurrences times are dropped.
func (m *Miner) Mine(ctx context.Context, alerts []*models.Alert, minOccurrences int) ([]models.AlertPattern, error) {
	if len(alerts) == 0 {
		return nil, nil
	}
	if minOccurrences < 1 {
		minOccurrences = 1
	}

	groups := make(map[string]*ruleAggregate)
	for _, alert := range alerts {
		agg := ensureAggregate(groups, alert)
		agg.count++
		agg.statusCounts[string(alert.Status)]++
		if alert.Status != models.AlertResolved {
			agg.open++
		}
		if severityRank(alert.Severity) > severityRank(agg.severity) {
			agg.severity = alert.Severity
		}
		if alert.CreatedAt.After(agg.lastSeen) {
			agg.lastSeen = alert.CreatedAt
		}
		if alert.ResolvedAt != nil {
			agg.resolved++
			agg.mttrMinutes += utils.DurationMinutes(alert.CreatedAt, *alert.ResolvedAt)
		}
	}

	patterns := make([]models.AlertPattern, 0, len(groups))
	for key, agg := range groups {
		if agg.count < minOccurrences {
			continue
		}
		pattern := models.AlertPattern{
			ID:          "pattern-" + key,
			ModelID:     agg.modelID,
			ModelName:   agg.modelName,
			Rule:        agg.rule,
			Severity:    agg.severity,
			Occurrences: agg.count,
			Prevalence:  models.Round4(float64(agg.count) / float64(len(alerts))),
			OpenCount:   agg.open,
			LastSeen:    agg.lastSeen,
			ByStatus:    agg.topStatuses(),
		}
		if agg.resolved > 0 {
			pattern.MeanMTTR = models.Round4(agg.mttrMinutes / float64(agg.resolved))
		}
		patterns = append(patterns, pattern)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Occurrences != patterns[j].Occurrences {
			return patterns[i].Occurrences > patterns[j].Occurrences
		}
		return patterns[i].LastSeen.After(patterns[j].LastSeen)
	})

	if m.store != nil && len(patterns) > 0 {
		if err := m.store.StorePatterns(ctx, patterns); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}

	return patterns, nil
}

type ruleAggregate struct {
	modelID      string
	modelName    string
	rule         string
	severity     models.Severity
	count        int
	open         int
	resolved     int
	mttrMinutes  float64
	lastSeen     time.Time
	statusCounts map[string]int
}

func ensureAggregate(m map[string]*ruleAggregate, alert *models.Alert) *ruleAggregate {
	key := alert.DedupKey()
	agg, ok := m[key]
	if !ok {
		agg = &ruleAggregate{
			modelID:      alert.ModelID,
			modelName:    alert.ModelName,
			rule:         alert.Rule,
			severity:     alert.Severity,
			statusCounts: make(map[string]int),
		}
		m[key] = agg
	}
	return agg
}

func (agg *ruleAggregate) topStatuses() []models.RuleCount {
	out := make([]models.RuleCount, 0, len(agg.statusCounts))
	for status, n := range agg.statusCounts {
		out = append(out, models.RuleCount{Label: status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 4
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	}
	return 0
}
