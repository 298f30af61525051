package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/Strob0t/argus/internal/adapter/otel"
	"github.com/Strob0t/argus/internal/domain/event"
	"github.com/Strob0t/argus/internal/port/eventsink"
)

// sinkTimeout bounds one sink delivery.
const sinkTimeout = 5 * time.Second

// EventEmitter delivers lifecycle events to sinks from a background worker.
// Emit never blocks: when the queue is full the event is dropped and counted.
type EventEmitter struct {
	mu      sync.RWMutex // guards closed against concurrent Emit
	closed  bool
	ch      chan *event.Event
	sinks   []eventsink.Sink
	done    chan struct{}
	dropped atomic.Int64
	metrics *cfotel.Metrics
	now     func() time.Time
}

// NewEventEmitter starts an emitter with a queue of the given capacity.
func NewEventEmitter(buffer int, sinks ...eventsink.Sink) *EventEmitter {
	if buffer < 1 {
		buffer = 1
	}
	e := &EventEmitter{
		ch:    make(chan *event.Event, buffer),
		sinks: sinks,
		done:  make(chan struct{}),
		now:   time.Now,
	}
	go e.run()
	return e
}

// SetMetrics attaches OTEL metric instruments.
func (e *EventEmitter) SetMetrics(m *cfotel.Metrics) {
	e.metrics = m
}

// Emit stamps the event with an ID and timestamp and queues it.
func (e *EventEmitter) Emit(ctx context.Context, ev *event.Event) {
	if e == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(ctx, ev, "closed")
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.drop(ctx, ev, "queue full")
	}
}

func (e *EventEmitter) drop(ctx context.Context, ev *event.Event, reason string) {
	e.dropped.Add(1)
	slog.Debug("event dropped", "type", ev.Type, "session_id", ev.SessionID, "reason", reason)
	if e.metrics != nil {
		e.metrics.EventsDropped.Add(ctx, 1)
	}
}

// Dropped returns the number of events that could not be queued.
func (e *EventEmitter) Dropped() int64 { return e.dropped.Load() }

// Close stops accepting events and waits until queued events were delivered.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
	e.mu.Unlock()
	<-e.done
	if n := e.dropped.Load(); n > 0 {
		slog.Warn("event emitter dropped events", "count", n)
	}
}

func (e *EventEmitter) run() {
	defer close(e.done)
	for ev := range e.ch {
		for _, s := range e.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := s.Publish(ctx, ev); err != nil {
				slog.Warn("event sink publish failed", "type", ev.Type, "session_id", ev.SessionID, "error", err)
			}
			cancel()
		}
	}
}

// LogSink writes every event as a structured log record.
func LogSink() eventsink.Sink {
	return eventsink.Func(func(ctx context.Context, ev *event.Event) error {
		slog.InfoContext(ctx, "orchestration event",
			"type", ev.Type,
			"session_id", ev.SessionID,
			"phase", ev.Phase,
			"agent", ev.Agent,
			"attempt", ev.Attempt,
		)
		return nil
	})
}
