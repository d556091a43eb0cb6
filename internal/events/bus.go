package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-modelwatch/internal/metrics"
	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

// Sink forwards encoded events to an external transport.
type Sink interface {
	Name() string
	Send(ctx context.Context, subject string, data []byte) error
	Close() error
}

type subscription struct {
	ch     chan models.Event
	filter map[models.EventType]struct{}
}

func (s *subscription) wants(t models.EventType) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

type outbound struct {
	subject string
	data    []byte
}

// Bus fans events out to in-process subscribers and external sinks. Publish never blocks:
// slow subscribers and a saturated sink queue drop events and count them.
type Bus struct {
	logger *slog.Logger
	prefix string
	buffer int

	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	closed bool

	sinks   []Sink
	queue   chan outbound
	done    chan struct{}
	timeout time.Duration
}

// NewBus constructs a Bus. buffer sizes each subscriber channel and the sink queue.
func NewBus(logger *slog.Logger, prefix string, buffer int, sinks ...Sink) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	if prefix == "" {
		prefix = "modelwatch"
	}
	b := &Bus{
		logger:  logger,
		prefix:  prefix,
		buffer:  buffer,
		subs:    make(map[int]*subscription),
		sinks:   sinks,
		done:    make(chan struct{}),
		timeout: 2 * time.Second,
	}
	if len(sinks) > 0 {
		b.queue = make(chan outbound, buffer)
		go b.forward()
	} else {
		close(b.done)
	}
	return b
}

// Subscribe returns a channel of events of the given types (all types when none are given)
// and a cancel function that closes it.
func (b *Bus) Subscribe(types ...models.EventType) (<-chan models.Event, func()) {
	sub := &subscription{ch: make(chan models.Event, b.buffer)}
	if len(types) > 0 {
		sub.filter = make(map[models.EventType]struct{}, len(types))
		for _, t := range types {
			sub.filter[t] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
}

// Subject returns the external subject or channel for an event type.
func (b *Bus) Subject(t models.EventType) string {
	return b.prefix + "." + string(t)
}

// Publish delivers evt to subscribers and queues it for sinks.
func (b *Bus) Publish(_ context.Context, evt models.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.wants(evt.Type) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			metrics.EventDropped("subscriber")
		}
	}

	if b.queue == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.Warn("event encode failed", slog.String("type", string(evt.Type)), slog.Any("error", err))
		return
	}
	select {
	case b.queue <- outbound{subject: b.Subject(evt.Type), data: data}:
	default:
		metrics.EventDropped("queue")
	}
}

func (b *Bus) forward() {
	defer close(b.done)
	for msg := range b.queue {
		for _, sink := range b.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			err := sink.Send(ctx, msg.subject, msg.data)
			cancel()
			if err != nil {
				metrics.EventDropped(sink.Name())
				b.logger.Warn("event sink send failed",
					slog.String("sink", sink.Name()),
					slog.String("subject", msg.subject),
					slog.Any("error", err),
				)
			}
		}
	}
}

// Close stops delivery, flushes queued sink messages, and closes every subscriber channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	<-b.done
	var firstErr error
	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
