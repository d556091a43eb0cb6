package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

type captureSink struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	fail     bool
	closed   bool
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Send(_ context.Context, subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("unavailable")
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *captureSink) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func TestSubscribersReceiveFilteredEvents(t *testing.T) {
	bus := NewBus(utils.DiscardLogger(), "", 8)
	defer bus.Close()

	all, cancelAll := bus.Subscribe()
	defer cancelAll()
	alertsOnly, cancelAlerts := bus.Subscribe(models.EventAlertCreated)
	defer cancelAlerts()

	bus.Publish(context.Background(), models.Event{Type: models.EventMetricIngested})
	bus.Publish(context.Background(), models.Event{Type: models.EventAlertCreated})

	if got := (<-all).Type; got != models.EventMetricIngested {
		t.Fatalf("expected metric event first, got %s", got)
	}
	if got := (<-all).Type; got != models.EventAlertCreated {
		t.Fatalf("expected alert event second, got %s", got)
	}
	select {
	case evt := <-alertsOnly:
		if evt.Type != models.EventAlertCreated {
			t.Fatalf("filtered subscriber got %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("filtered subscriber received nothing")
	}
	select {
	case evt := <-alertsOnly:
		t.Fatalf("unexpected extra event %s", evt.Type)
	default:
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus(utils.DiscardLogger(), "", 1)
	defer bus.Close()
	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(context.Background(), models.Event{Type: models.EventMetricIngested})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestSinkReceivesPrefixedSubjects(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(utils.DiscardLogger(), "mw", 8, sink)

	bus.Publish(context.Background(), models.Event{
		Type:    models.EventAlertResolved,
		Payload: models.AlertResolvedPayload{AlertID: "a1", ResolvedBy: "u1"},
	})
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.subjects) != 1 || sink.subjects[0] != "mw.alert_resolved" {
		t.Fatalf("unexpected subjects: %v", sink.subjects)
	}
	var decoded struct {
		Type    string `json:"type"`
		Payload struct {
			AlertID string `json:"alert_id"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(sink.payloads[0], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Payload.AlertID != "a1" {
		t.Fatalf("unexpected payload: %s", sink.payloads[0])
	}
	if !sink.closed {
		t.Fatalf("sink not closed")
	}
}

func TestSinkFailureIsSwallowed(t *testing.T) {
	sink := &captureSink{fail: true}
	bus := NewBus(utils.DiscardLogger(), "", 8, sink)
	bus.Publish(context.Background(), models.Event{Type: models.EventSLOUpdated})
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	bus := NewBus(utils.DiscardLogger(), "", 4)
	ch, cancel := bus.Subscribe()
	_ = bus.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	cancel()
	bus.Publish(context.Background(), models.Event{Type: models.EventAlertUpdated})
}
