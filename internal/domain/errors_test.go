package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

func TestRateLimitedErrorUnwrap(t *testing.T) {
	err := &domain.RateLimitedError{Reason: domain.ReasonWindow, RetryAfterMs: 1500}
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
	assert.Contains(t, err.Error(), "window")
	assert.Contains(t, err.Error(), "1500")

	wrapped := fmt.Errorf("op=orchestrator.process: %w", err)
	assert.True(t, errors.Is(wrapped, domain.ErrRateLimited))

	var rle *domain.RateLimitedError
	require.True(t, errors.As(wrapped, &rle))
	assert.Equal(t, domain.ReasonWindow, rle.Reason)
}

func TestRateLimitReasons(t *testing.T) {
	tests := []struct {
		name   string
		reason domain.RateLimitReason
	}{
		{name: "window", reason: domain.ReasonWindow},
		{name: "daily_budget", reason: domain.ReasonDailyBudget},
		{name: "monthly_budget", reason: domain.ReasonMonthlyBudget},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := &domain.RateLimitedError{Reason: tc.reason}
			assert.Equal(t, tc.name, string(tc.reason))
			assert.True(t, errors.Is(err, domain.ErrRateLimited))
		})
	}
}

func TestWorkerCallFailedErrorCarriesLastError(t *testing.T) {
	last := &domain.UpstreamError{Dependency: "openai", Status: 503, Message: "unavailable"}
	err := &domain.WorkerCallFailedError{Worker: domain.WorkerRefiner, Attempts: 4, LastError: last}

	assert.True(t, errors.Is(err, domain.ErrWorkerCallFailed))
	assert.Contains(t, err.Error(), "attempts=4")
	assert.Contains(t, err.Error(), "refiner")

	var wcf *domain.WorkerCallFailedError
	require.True(t, errors.As(err, &wcf))
	assert.Equal(t, 4, wcf.Attempts)
	assert.ErrorIs(t, wcf.LastError, domain.ErrUpstream)
}

func TestUpstreamErrorRetryable(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "network error", status: 0, retryable: true},
		{name: "rate limited", status: 429, retryable: true},
		{name: "server error", status: 500, retryable: true},
		{name: "bad gateway", status: 502, retryable: true},
		{name: "bad request", status: 400, retryable: false},
		{name: "unauthorized", status: 401, retryable: false},
		{name: "not found", status: 404, retryable: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := &domain.UpstreamError{Dependency: "openai", Status: tc.status}
			assert.Equal(t, tc.retryable, err.Retryable())
			assert.True(t, errors.Is(err, domain.ErrUpstream))
		})
	}
}

func TestTimeoutAndCircuitOpenUnwrap(t *testing.T) {
	te := &domain.TimeoutError{Worker: domain.WorkerFactChecker, TimeoutMs: 30000}
	assert.True(t, errors.Is(te, domain.ErrTimeout))
	assert.Contains(t, te.Error(), "factchecker")

	co := &domain.CircuitOpenError{Dependency: "search:serp"}
	assert.True(t, errors.Is(co, domain.ErrCircuitOpen))
	assert.Contains(t, co.Error(), "search:serp")
}
