// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the orchestration surface: request processing, routing-rule
// administration, budget and usage queries, and readiness probes. Handlers
// translate the domain error taxonomy into a stable JSON error envelope.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses. Anything
// outside the closed set is treated as internal: the body carries a stable
// opaque message and the real error only goes to the log.
func writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	message := err.Error()

	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
		code = "VALIDATION"
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		code = "RATE_LIMITED"
		var rl *domain.RateLimitedError
		if errors.As(err, &rl) {
			w.Header().Set("Retry-After", strconv.FormatInt((rl.RetryAfterMs+999)/1000, 10))
			if details == nil {
				details = map[string]any{"reason": string(rl.Reason), "retry_after_ms": rl.RetryAfterMs}
			}
		}
	case errors.Is(err, domain.ErrNoAgentAvailable):
		status = http.StatusServiceUnavailable
		code = "NO_AGENT_AVAILABLE"
	case errors.Is(err, domain.ErrTimeout):
		status = http.StatusGatewayTimeout
		code = "TIMEOUT"
		var te *domain.TimeoutError
		if errors.As(err, &te) && details == nil {
			details = map[string]any{"worker": string(te.Worker), "timeout_ms": te.TimeoutMs}
		}
	case errors.Is(err, domain.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
		code = "CIRCUIT_OPEN"
		var co *domain.CircuitOpenError
		if errors.As(err, &co) && details == nil {
			details = map[string]any{"dependency": co.Dependency}
		}
	case errors.Is(err, domain.ErrWorkerCallFailed):
		status = http.StatusBadGateway
		code = "WORKER_CALL_FAILED"
		var wf *domain.WorkerCallFailedError
		if errors.As(err, &wf) && details == nil {
			details = map[string]any{"worker": string(wf.Worker), "attempts": wf.Attempts}
		}
	case errors.Is(err, domain.ErrUpstream):
		status = http.StatusBadGateway
		code = "UPSTREAM_ERROR"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	default:
		LoggerFrom(r).LogAttrs(r.Context(), slog.LevelError, "internal error",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		message = "internal error"
	}

	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message, Details: details}})
}
