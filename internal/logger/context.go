package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// sessionIDKey is the context key for the orchestration session ID.
var sessionIDKey = contextKey{}

// WithSessionID returns a new context with the given session ID stored.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID extracts the session ID from the context.
// Returns an empty string if no session ID is set.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// sessionHandler adds a "session_id" attribute to records logged with a
// context carrying one (slog.InfoContext and friends).
type sessionHandler struct {
	inner slog.Handler
}

func (h *sessionHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *sessionHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if id := SessionID(ctx); id != "" {
		rec = rec.Clone()
		rec.AddAttrs(slog.String("session_id", id))
	}
	return h.inner.Handle(ctx, rec)
}

func (h *sessionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sessionHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *sessionHandler) WithGroup(name string) slog.Handler {
	return &sessionHandler{inner: h.inner.WithGroup(name)}
}

type requestIDKey struct{}

// WithRequestID returns a new context carrying the HTTP request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID extracts the request ID from the context.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
