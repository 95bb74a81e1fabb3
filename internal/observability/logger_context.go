// Package observability carries request-scoped logging state through
// context.Context so that deeper layers and background consumers can
// correlate their logs with the HTTP request that started the work.
package observability

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	keyLogger ctxKey = iota
	keyRequestID
)

// ContextWithLogger returns a context carrying lg as the request-scoped
// logger. A nil logger leaves ctx unchanged.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, keyLogger, lg)
}

// ContextWithRequestID returns a context carrying the id minted for the
// inbound request. Empty ids are not stored.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil || id == "" {
		return ctx
	}
	return context.WithValue(ctx, keyRequestID, id)
}

// LoggerFromContext returns the request-scoped logger. A context that holds
// a request id but no logger yet (the queue consumer seeds the id first)
// gets the default logger annotated with that id.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if lg, ok := ctx.Value(keyLogger).(*slog.Logger); ok && lg != nil {
		return lg
	}
	if id := RequestIDFromContext(ctx); id != "" {
		return slog.Default().With(slog.String("request_id", id))
	}
	return slog.Default()
}

// RequestIDFromContext returns the stored request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(keyRequestID).(string)
	return id
}
