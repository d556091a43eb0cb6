package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveIngestCountsOnlySuccess(t *testing.T) {
	before := testutil.ToFloat64(metricsIngestedTotal.WithLabelValues("accuracy"))
	ObserveIngest("accuracy", time.Millisecond, OutcomeSuccess)
	ObserveIngest("accuracy", time.Millisecond, OutcomeError)
	after := testutil.ToFloat64(metricsIngestedTotal.WithLabelValues("accuracy"))
	if after-before != 1 {
		t.Fatalf("expected one counted point, got %v", after-before)
	}
}

func TestAlertTransitionNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(alertTransitionsTotal.WithLabelValues("resolved", OutcomeSuccess))
	AlertTransition("resolved", "anything")
	after := testutil.ToFloat64(alertTransitionsTotal.WithLabelValues("resolved", OutcomeSuccess))
	if after-before != 1 {
		t.Fatalf("unknown outcomes should count as success")
	}
}
