package observability

import (
	"context"
	"log/slog"
	"testing"
)

func TestLoggerRoundTrip(t *testing.T) {
	lg := slog.Default().With(slog.String("component", "test"))

	ctx := ContextWithLogger(context.Background(), lg)
	if got := LoggerFromContext(ctx); got != lg {
		t.Fatalf("LoggerFromContext returned %v, want the stored logger", got)
	}
}

func TestLoggerFromContext_Defaults(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != slog.Default() {
		t.Fatal("bare context should yield slog.Default")
	}
	if got := LoggerFromContext(nil); got != slog.Default() { //nolint:staticcheck
		t.Fatal("nil context should yield slog.Default")
	}
}

func TestLoggerFromContext_RequestIDOnly(t *testing.T) {
	// A context seeded with just an id (the consumer path) must still
	// produce a correlated logger.
	ctx := ContextWithRequestID(context.Background(), "01HREQ")
	if got := LoggerFromContext(ctx); got == slog.Default() {
		t.Fatal("id-only context should yield an annotated logger, not the default")
	}
}

func TestContextWithLogger_NilLogger(t *testing.T) {
	ctx := context.Background()
	if got := ContextWithLogger(ctx, nil); got != ctx {
		t.Fatal("nil logger should leave the context unchanged")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Fatalf("RequestIDFromContext() = %q, want %q", got, "req-123")
	}

	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("empty context returned id %q", got)
	}
}

func TestContextWithRequestID_Empty(t *testing.T) {
	ctx := context.Background()
	if got := ContextWithRequestID(ctx, ""); got != ctx {
		t.Fatal("empty id should leave the context unchanged")
	}
}
