package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels operations that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels operations rejected or failed.
	OutcomeError = "error"
)

const namespace = "modelwatch"

var (
	metricsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_ingested_total",
			Help:      "Metric points accepted, partitioned by metric type.",
		},
		[]string{"metric_type"},
	)

	ingestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_seconds",
			Help:      "Ingestion latency in seconds including rule evaluation.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"outcome"},
	)

	alertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts opened, partitioned by severity.",
		},
		[]string{"severity"},
	)

	duplicatesSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_duplicates_suppressed_total",
			Help:      "Breaches folded into an already open alert.",
		},
	)

	alertTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Alert lifecycle transitions, partitioned by target state and outcome.",
		},
		[]string{"state", "outcome"},
	)

	incidentClosuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incident_closures_total",
			Help:      "Incident close attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	auditAppendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_append_failures_total",
			Help:      "Audit entries that could not be persisted.",
		},
	)

	eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not delivered, partitioned by sink.",
		},
		[]string{"sink"},
	)

	overviewCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overview_cache_total",
			Help:      "Overview cache lookups, partitioned by result.",
		},
		[]string{"result"},
	)
)

// Register attaches modelwatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		metricsIngestedTotal,
		ingestDurationSeconds,
		alertsCreatedTotal,
		duplicatesSuppressedTotal,
		alertTransitionsTotal,
		incidentClosuresTotal,
		auditAppendFailuresTotal,
		eventsDroppedTotal,
		overviewCacheTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func outcomeLabel(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return OutcomeError
}

// ObserveIngest records an ingestion duration and outcome; successful points are counted by type.
func ObserveIngest(metricType string, duration time.Duration, outcome string) {
	label := outcomeLabel(outcome)
	if label == OutcomeSuccess {
		metricsIngestedTotal.WithLabelValues(metricType).Inc()
	}
	if duration < 0 {
		duration = 0
	}
	ingestDurationSeconds.WithLabelValues(label).Observe(duration.Seconds())
}

// AlertCreated counts a newly opened alert.
func AlertCreated(severity string) {
	alertsCreatedTotal.WithLabelValues(severity).Inc()
}

// DuplicateSuppressed counts a breach folded into an open alert.
func DuplicateSuppressed() {
	duplicatesSuppressedTotal.Inc()
}

// AlertTransition counts a transition attempt.
func AlertTransition(state, outcome string) {
	alertTransitionsTotal.WithLabelValues(state, outcomeLabel(outcome)).Inc()
}

// IncidentClosure counts a close attempt.
func IncidentClosure(outcome string) {
	incidentClosuresTotal.WithLabelValues(outcomeLabel(outcome)).Inc()
}

// AuditAppendFailed counts a lost audit entry.
func AuditAppendFailed() {
	auditAppendFailuresTotal.Inc()
}

// EventDropped counts an undelivered event for sink.
func EventDropped(sink string) {
	eventsDroppedTotal.WithLabelValues(sink).Inc()
}

// OverviewCache counts a cache lookup; hit reports whether it was served from cache.
func OverviewCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	overviewCacheTotal.WithLabelValues(result).Inc()
}
