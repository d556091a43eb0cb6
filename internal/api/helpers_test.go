package api

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/catalog"
	"github.com/miradorstack/mirador-modelwatch/internal/engine"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/services"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) *services.MonitoringService {
	t.Helper()
	rules, err := engine.NewRuleEngine("", utils.DiscardLogger())
	if err != nil {
		t.Fatalf("rule engine: %v", err)
	}
	var seq atomic.Int64
	svc, _ := services.Wire(utils.DiscardLogger(), repo.NewMemoryStore(), catalog.New(catalog.Defaults(testNow)), rules, nil, services.Options{
		Clock: func() time.Time { return testNow },
		NewID: func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	})
	return svc
}
