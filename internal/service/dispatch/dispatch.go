// Package dispatch is the resilient worker client: one call runs through
// the response cache, a circuit-breaker permit, a per-attempt timeout and
// bounded exponential-backoff retries, then settles usage into the ledger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/cache/rediscache"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/breaker"
)

const cacheWriteTimeout = 2 * time.Second

// Ledger records usage entries after a successful dispatch.
type Ledger interface {
	Record(ctx domain.Context, e domain.LedgerEntry) error
}

// Pricer converts provider token usage into USD.
type Pricer interface {
	Cost(ctx domain.Context, model string, usage domain.Usage) float64
}

// Config tunes the dispatcher. Zero values fall back to the published
// defaults in New.
type Config struct {
	RequestTimeout time.Duration
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64

	// Model parameters fixed per call; the fingerprint covers them.
	Model       string
	Temperature float64
	MaxTokens   int

	// CacheTTL maps a worker role name to its response-cache TTL.
	// Nil disables cache writes.
	CacheTTL func(worker string) time.Duration
}

// Service dispatches one request to one worker.
type Service struct {
	cache    domain.ResponseCache
	upstream *breaker.Breaker
	ledger   Ledger
	pricer   Pricer
	cfg      Config
}

// New builds a dispatcher. upstream is the breaker guarding the model
// provider shared by all worker roles.
func New(cache domain.ResponseCache, upstream *breaker.Breaker, ledger Ledger, pricer Pricer, cfg Config) *Service {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	return &Service{cache: cache, upstream: upstream, ledger: ledger, pricer: pricer, cfg: cfg}
}

// Dispatch runs req against worker: cache lookup, breaker permit, the call
// itself under a per-attempt timeout, retries for retryable failures, then
// cache write and ledger record on success. Terminal failures come back as
// WorkerCallFailedError; an open breaker fails fast as CircuitOpenError.
func (s *Service) Dispatch(ctx domain.Context, worker domain.Worker, req domain.Request, enriched domain.EnrichedContext) (*domain.Response, error) {
	kind := worker.Kind()

	tracer := otel.Tracer("service.dispatch")
	ctx, span := tracer.Start(ctx, "dispatch.Dispatch", trace.WithAttributes(
		attribute.String("worker", string(kind)),
		attribute.String("requestId", req.ID),
	))
	defer span.End()

	spec := domain.CallSpec{
		Model:        s.cfg.Model,
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxTokens,
		SystemPrompt: worker.BuildSystemContext(enriched),
	}

	key := rediscache.Fingerprint(kind, spec, req.Content, rediscache.ContextDigest(&enriched))
	if cached, ok := s.cache.Get(ctx, key); ok {
		observability.ObserveCacheLookup("response", string(kind), true)
		slog.Debug("response cache hit",
			slog.String("worker", string(kind)), slog.String("request_id", req.ID))
		return cached, nil
	}
	observability.ObserveCacheLookup("response", string(kind), false)

	if err := s.upstream.Allow(); err != nil {
		return nil, fmt.Errorf("op=dispatch.dispatch: %w", err)
	}

	var (
		resp     *domain.Response
		attempts int
	)
	op := func() error {
		attempts++
		if attempts > 1 {
			observability.RecordWorkerRetry(string(kind))
			slog.Warn("retrying worker call",
				slog.String("worker", string(kind)),
				slog.String("request_id", req.ID),
				slog.Int("attempt", attempts))
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()

		start := time.Now()
		r, err := worker.Process(callCtx, req, enriched, spec)
		elapsed := time.Since(start).Seconds()
		if err != nil {
			s.upstream.RecordFailure()
			observability.ObserveWorkerCall(string(kind), "error", elapsed)
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		s.upstream.RecordSuccess()
		observability.ObserveWorkerCall(string(kind), "success", elapsed)
		resp = r
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.cfg.BaseDelay
	expo.MaxInterval = s.cfg.MaxDelay
	expo.Multiplier = s.cfg.Multiplier
	expo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	bo := backoff.WithMaxRetries(backoff.WithContext(expo, ctx), uint64(s.cfg.MaxRetries))

	if err := backoff.Retry(op, bo); err != nil {
		slog.Error("worker call failed",
			slog.String("worker", string(kind)),
			slog.String("request_id", req.ID),
			slog.Int("attempts", attempts),
			slog.Any("error", err))
		return nil, &domain.WorkerCallFailedError{Worker: kind, Attempts: attempts, LastError: err}
	}

	if resp.Metadata.Model == "" {
		resp.Metadata.Model = spec.Model
	}
	s.settle(ctx, kind, req, resp)
	s.writeCache(ctx, key, kind, resp)
	return resp, nil
}

// settle prices the response usage and appends the ledger entry. Ledger
// failures never undo the worker call.
func (s *Service) settle(ctx domain.Context, kind domain.WorkerKind, req domain.Request, resp *domain.Response) {
	usage := domain.Usage{
		PromptTokens:     resp.Metadata.TokenUsage.Prompt,
		CompletionTokens: resp.Metadata.TokenUsage.Completion,
		TotalTokens:      resp.Metadata.TokenUsage.Total,
	}
	cost := s.pricer.Cost(ctx, resp.Metadata.Model, usage)
	resp.Metadata.TokenUsage.CostUSD = cost
	observability.RecordTokens(string(kind), usage.PromptTokens, usage.CompletionTokens)

	entry := domain.LedgerEntry{
		UserID:           req.UserID,
		WorkerKind:       kind,
		Model:            resp.Metadata.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          cost,
		RequestID:        req.ID,
		Metadata: map[string]any{
			"project_id":      req.ProjectID,
			"conversation_id": req.ConversationID,
		},
	}
	if err := s.ledger.Record(ctx, entry); err != nil {
		slog.Error("usage record failed",
			slog.String("worker", string(kind)),
			slog.String("request_id", req.ID),
			slog.Any("error", err))
	}
}

// writeCache stores the response on a short detached deadline so a dying
// request context cannot abort the write.
func (s *Service) writeCache(ctx domain.Context, key string, kind domain.WorkerKind, resp *domain.Response) {
	if s.cfg.CacheTTL == nil {
		return
	}
	ttl := s.cfg.CacheTTL(string(kind))
	if ttl <= 0 {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()
	s.cache.Set(wctx, key, resp, ttl)
}

// retryable classifies a worker-call failure. Provider errors answer for
// themselves; validation never retries; anything else (transport, timeout)
// is worth another attempt.
func retryable(err error) bool {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	if errors.Is(err, domain.ErrValidation) {
		return false
	}
	return true
}
