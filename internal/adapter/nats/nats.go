// Package nats publishes orchestration events to NATS JetStream and exposes
// the JetStream context used by the KV response cache.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/argus/internal/domain/event"
)

const streamName = "ARGUS_EVENTS"

// Bus implements eventsink.Sink using NATS JetStream.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// Connect establishes a connection to NATS and ensures the event stream
// exists, capturing every subject under prefix.
func Connect(ctx context.Context, url, prefix string) (*Bus, error) {
	nc, err := nats.Connect(url, nats.Name("argus"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{prefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName, "prefix", prefix)
	return &Bus{nc: nc, js: js, prefix: prefix}, nil
}

// JetStream returns the JetStream context for KV buckets.
func (b *Bus) JetStream() jetstream.JetStream { return b.js }

// Publish sends the event to <prefix>.<type>, de-duplicated by event ID.
func (b *Bus) Publish(ctx context.Context, ev *event.Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}
	subject := ev.Subject(b.prefix)
	if _, err := b.js.Publish(ctx, subject, data, jetstream.WithMsgID(ev.ID)); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Handler processes one decoded event; returning an error naks the message.
type Handler func(ctx context.Context, ev *event.Event) error

// Subscribe consumes events of the given type ("" for all types).
func (b *Bus) Subscribe(ctx context.Context, typ event.Type, handler Handler) (func(), error) {
	filter := b.prefix + ".>"
	if typ != "" {
		filter = b.prefix + "." + string(typ)
	}
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: filter,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var ev event.Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			slog.Error("event decode failed", "subject", msg.Subject(), "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, &ev); err != nil {
			slog.Error("event handler failed", "subject", msg.Subject(), "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// Close drains and shuts down the NATS connection.
func (b *Bus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
