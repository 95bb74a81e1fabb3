// Package httpserver contains the HTTP handlers and middleware for the
// orchestrator's API surface: request processing, routing-rule
// administration, budget and stats queries, and health probes.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	obsctx "github.com/fairyhunter13/ai-writing-orchestrator/internal/observability"
)

// Recoverer turns handler panics into the standard JSON error envelope so
// one bad request cannot take the process down.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					LoggerFrom(r).Error("panic recovered",
						slog.Any("recover", rec),
						slog.String("path", r.URL.Path))
					writeError(w, r, fmt.Errorf("op=httpserver.recover: %w", domain.ErrInternal), nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID ensures every request carries an id: an acceptable inbound
// X-Request-Id is kept so upstream proxies stay correlated, anything else is
// replaced with a fresh ULID. The id and a correlated logger travel in the
// context; dispatch spans and message-pair events reuse both.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-Id")
			if !acceptableReqID(reqID) {
				reqID = newReqID()
				r.Header.Set("X-Request-Id", reqID)
			}

			lg := requestLogger(r, reqID)
			ctx := context.WithValue(r.Context(), loggerKey{}, lg)
			ctx = obsctx.ContextWithLogger(ctx, lg)
			ctx = obsctx.ContextWithRequestID(ctx, reqID)

			w.Header().Set("X-Request-Id", reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestLogger binds the ids that let one request be followed across logs,
// traces and the persister.
func requestLogger(r *http.Request, reqID string) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(r.Context())
	return slog.Default().With(
		slog.String("request_id", reqID),
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// acceptableReqID bounds inbound ids to 64 printable ASCII bytes; anything
// else gets replaced rather than echoed into logs and headers.
func acceptableReqID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// TimeoutMiddleware adds a hard server-side deadline. The orchestrator's own
// request timeout fires first in normal operation; this is the backstop.
func TimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, http.StatusText(http.StatusGatewayTimeout))
	}
}

// SecurityHeaders adds strict security headers suitable for a JSON API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		// HSTS should be set at the reverse proxy/edge in HTTPS environments
		next.ServeHTTP(w, r)
	})
}

type loggerKey struct{}

// LoggerFrom extracts the request-scoped logger from the context or returns the default logger.
func LoggerFrom(r *http.Request) *slog.Logger {
	if lg, ok := r.Context().Value(loggerKey{}).(*slog.Logger); ok && lg != nil {
		return lg
	}
	return slog.Default()
}

var ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // Weak random is sufficient for ULID entropy.

func newReqID() string {
	// ULID request ids sort by time, which keeps log scans cheap.
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulidEntropy)
	if err != nil {
		return fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return id.String()
}

// routePattern resolves the chi route pattern after routing has run, falling
// back to the raw path for unmatched requests. Metric and log labels share
// this so dashboards line up.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// levelFor picks the access-log level from the response status.
func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// AccessLog emits one structured line per request after the handler runs.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			spanCtx := trace.SpanContextFromContext(r.Context())
			LoggerFrom(r).LogAttrs(r.Context(), levelFor(status), "http_access",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration_ms", time.Since(start)),
				slog.String("request_id", r.Header.Get("X-Request-Id")),
				slog.String("trace_id", spanCtx.TraceID().String()),
				slog.String("span_id", spanCtx.SpanID().String()),
			)
		})
	}
}
