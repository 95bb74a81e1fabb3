package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy (sentinels). Closed set: every error leaving the
// orchestrator wraps exactly one of these.
var (
	ErrValidation       = errors.New("validation error")
	ErrRateLimited      = errors.New("rate limited")
	ErrNoAgentAvailable = errors.New("no agent available")
	ErrTimeout          = errors.New("timeout")
	ErrCircuitOpen      = errors.New("circuit open")
	ErrUpstream         = errors.New("upstream error")
	ErrWorkerCallFailed = errors.New("worker call failed")
	ErrPersistence      = errors.New("persistence error")
	ErrNotFound         = errors.New("not found")
	ErrInternal         = errors.New("internal error")
)

// RateLimitReason discriminates why admission was refused.
type RateLimitReason string

const (
	ReasonWindow        RateLimitReason = "window"
	ReasonDailyBudget   RateLimitReason = "daily_budget"
	ReasonMonthlyBudget RateLimitReason = "monthly_budget"
)

// RateLimitedError carries the refusal reason and when to retry.
type RateLimitedError struct {
	Reason       RateLimitReason
	RetryAfterMs int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: reason=%s retry_after_ms=%d", e.Reason, e.RetryAfterMs)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// TimeoutError reports the worker and budget that expired.
type TimeoutError struct {
	Worker    WorkerKind
	TimeoutMs int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: worker=%s timeout_ms=%d", e.Worker, e.TimeoutMs)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// CircuitOpenError names the dependency whose breaker refused the call.
type CircuitOpenError struct {
	Dependency string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open: dependency=%s", e.Dependency)
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// UpstreamError is a provider failure (LLM or search). Status 0 means a
// transport-level error with no HTTP response.
type UpstreamError struct {
	Dependency string
	Status     int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: dependency=%s status=%d: %s", e.Dependency, e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// Retryable reports whether the failure is worth another attempt:
// network errors, 5xx, and 429. Any other 4xx is permanent.
func (e *UpstreamError) Retryable() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}

// WorkerCallFailedError is the terminal wrapper after retries are exhausted.
type WorkerCallFailedError struct {
	Worker    WorkerKind
	Attempts  int
	LastError error
}

func (e *WorkerCallFailedError) Error() string {
	return fmt.Sprintf("worker call failed: worker=%s attempts=%d: %v", e.Worker, e.Attempts, e.LastError)
}

func (e *WorkerCallFailedError) Unwrap() error { return ErrWorkerCallFailed }
