// Package eventsink defines the port for consumers of orchestration events.
package eventsink

import (
	"context"

	"github.com/Strob0t/argus/internal/domain/event"
)

// Sink receives orchestration events. Implementations must not block for
// long: the emitter calls sinks from its own worker, never from the
// orchestrator, but a slow sink delays every sink after it.
type Sink interface {
	Publish(ctx context.Context, ev *event.Event) error
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, ev *event.Event) error

// Publish calls f.
func (f Func) Publish(ctx context.Context, ev *event.Event) error { return f(ctx, ev) }
