package services

import (
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/alerts"
	"github.com/miradorstack/mirador-modelwatch/internal/audit"
	"github.com/miradorstack/mirador-modelwatch/internal/cache"
	"github.com/miradorstack/mirador-modelwatch/internal/catalog"
	"github.com/miradorstack/mirador-modelwatch/internal/engine"
	"github.com/miradorstack/mirador-modelwatch/internal/incidents"
	"github.com/miradorstack/mirador-modelwatch/internal/metricstore"
	"github.com/miradorstack/mirador-modelwatch/internal/patterns"
	"github.com/miradorstack/mirador-modelwatch/internal/reporting"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/slo"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

// Options tune how Wire assembles the engine.
type Options struct {
	Paging      Paging
	Cache       cache.Provider
	OverviewTTL time.Duration
	// PatternStore receives mined hotspots; nil disables persistence.
	PatternStore patterns.Store
	// Clock and NewID replace time.Now and uuid generation, mainly for tests.
	Clock func() time.Time
	NewID func() string
}

// Wire builds every component over store and returns the facade together with its reporter.
func Wire(logger *slog.Logger, store *repo.Store, cat *catalog.Catalog, rules *engine.RuleEngine, events engine.Publisher, opts Options) (*MonitoringService, *reporting.Reporter) {
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = utils.NewID
	}

	metricStore := metricstore.New(store.Metrics, cat)
	alertManager := alerts.NewManager(store.Alerts, logger, alerts.WithClock(clock), alerts.WithIDGenerator(newID))
	correlator := incidents.NewCorrelator(store.Incidents, alertManager, logger, incidents.WithClock(clock), incidents.WithIDGenerator(newID))
	tracker := slo.NewTracker(store.SLOs, alertManager, correlator, logger, slo.WithClock(clock), slo.WithIDGenerator(newID))
	ledger := audit.NewLedger(store.Audit, logger)
	ledger.SetClock(clock)

	pipeline := engine.NewPipeline(logger, cat, metricStore, rules, alertManager, events)
	pipeline.SetClock(clock)

	reporter := reporting.NewReporter(reporting.Sources{
		Alerts:    alertManager,
		Incidents: correlator,
		SLOs:      tracker,
		Audit:     ledger,
		Metrics:   metricStore,
		Models:    cat,
	}, logger,
		reporting.WithCache(opts.Cache, opts.OverviewTTL),
		reporting.WithMiner(patterns.NewMiner(logger, opts.PatternStore)),
		reporting.WithClock(clock),
	)

	svc := NewMonitoringService(logger, Deps{
		Catalog:   cat,
		Metrics:   metricStore,
		Pipeline:  pipeline,
		Alerts:    alertManager,
		Incidents: correlator,
		SLOs:      tracker,
		Ledger:    ledger,
		Reporter:  reporter,
		Events:    events,
	}, opts.Paging)
	svc.now = clock
	return svc, reporter
}
