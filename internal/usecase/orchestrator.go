// Package usecase runs the request pipeline: admission, routing-context
// derivation, rule routing, context enrichment, worker validation, the
// dispatched call and post-dispatch persistence.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/router"
)

// emaAlpha weights the newest sample in the per-worker processing-time
// average.
const emaAlpha = 0.2

// slotRetryAfter is the Retry-After hint handed out when the admission
// semaphore is full. Slots churn with request completions, so the hint
// stays short.
const slotRetryAfter = time.Second

// Admitter enforces the per-user window and budget checks.
type Admitter interface {
	Allow(ctx domain.Context, userID string, estimatedCostUSD float64) error
}

// Dispatcher runs one request against one worker with caching, breaker
// and retry semantics.
type Dispatcher interface {
	Dispatch(ctx domain.Context, worker domain.Worker, req domain.Request, enriched domain.EnrichedContext) (*domain.Response, error)
}

// WorkerSource resolves worker kinds to implementations.
type WorkerSource interface {
	Get(kind domain.WorkerKind) (domain.Worker, error)
}

// ContextSource is the context-store surface the pipeline needs. Save is
// write-behind and absorbs its own failures.
type ContextSource interface {
	Load(ctx domain.Context, projectID, conversationID string) (domain.EnrichedContext, error)
	Save(ctx domain.Context, ec domain.EnrichedContext)
}

// TokenCounter estimates prompt tokens for admission pricing.
type TokenCounter interface {
	CountTokens(text, model string) (int, error)
}

// CostEstimator prices an estimated token count.
type CostEstimator interface {
	EstimateCost(ctx domain.Context, model string, tokens int) float64
}

// BudgetSource answers the budget and usage-stats read endpoints.
type BudgetSource interface {
	Status(ctx domain.Context, userID string) (domain.BudgetStatus, error)
	Stats(ctx domain.Context, userID string, f domain.StatsFilter) (domain.UsageStats, error)
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Router   *router.Router
	Workers  WorkerSource
	Dispatch Dispatcher
	Limiter  Admitter
	Store    ContextSource
	Projects domain.ProjectRepository
	Messages domain.MessageRepository
	Queue    domain.MessageQueue
	Budget   BudgetSource
	Counter  TokenCounter
	Pricer   CostEstimator
}

// Config tunes the orchestrator. Zero values fall back to the published
// defaults in New.
type Config struct {
	MaxConcurrent  int
	RequestTimeout time.Duration
	ChatModel      string
	ChatMaxTokens  int
	HistoryLimit   int
}

// Orchestrator is the application entrypoint for one writing request.
type Orchestrator struct {
	router   *router.Router
	workers  WorkerSource
	dispatch Dispatcher
	limiter  Admitter
	store    ContextSource
	projects domain.ProjectRepository
	messages domain.MessageRepository
	queue    domain.MessageQueue
	budget   BudgetSource
	counter  TokenCounter
	pricer   CostEstimator
	cfg      Config

	slots chan struct{}

	mu  sync.Mutex
	ema map[domain.WorkerKind]float64
}

// New builds an Orchestrator from its dependency set.
func New(d Deps, cfg Config) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.ChatMaxTokens <= 0 {
		cfg.ChatMaxTokens = 1024
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Orchestrator{
		router:   d.Router,
		workers:  d.Workers,
		dispatch: d.Dispatch,
		limiter:  d.Limiter,
		store:    d.Store,
		projects: d.Projects,
		messages: d.Messages,
		queue:    d.Queue,
		budget:   d.Budget,
		counter:  d.Counter,
		pricer:   d.Pricer,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		ema:      make(map[domain.WorkerKind]float64, len(domain.AllWorkerKinds)),
	}
}

// Process runs one request through the pipeline and returns the worker
// response. Every exit path releases the admission slot and lands in the
// request metrics exactly once.
func (o *Orchestrator) Process(ctx domain.Context, req domain.Request) (*domain.Response, error) {
	observability.StartRequest()
	start := time.Now()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := precheck(req); err != nil {
		return nil, o.fail(ctx, "", err)
	}

	select {
	case o.slots <- struct{}{}:
	default:
		observability.RecordRateLimitRefusal(string(domain.ReasonWindow))
		err := &domain.RateLimitedError{Reason: domain.ReasonWindow, RetryAfterMs: slotRetryAfter.Milliseconds()}
		return nil, o.fail(ctx, "", err)
	}
	defer func() { <-o.slots }()

	tracer := otel.Tracer("usecase.orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrator.Process", trace.WithAttributes(
		attribute.String("requestId", req.ID),
		attribute.String("userId", req.UserID),
		attribute.String("projectId", req.ProjectID),
	))
	defer span.End()

	if err := o.admit(ctx, req); err != nil {
		return nil, o.fail(ctx, "", err)
	}

	project, err := o.projects.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, o.fail(ctx, "", fmt.Errorf("op=orchestrator.project: %w", err))
	}

	rc, err := o.routingContext(ctx, req, project)
	if err != nil {
		return nil, o.fail(ctx, "", err)
	}

	kind, err := o.router.Route(ctx, rc)
	if err != nil {
		return nil, o.fail(ctx, "", err)
	}
	span.SetAttributes(attribute.String("worker", string(kind)))

	w, err := o.workers.Get(kind)
	if err != nil {
		return nil, o.fail(ctx, kind, err)
	}

	ec, err := o.store.Load(ctx, req.ProjectID, req.ConversationID)
	if err != nil {
		return nil, o.fail(ctx, kind, fmt.Errorf("op=orchestrator.context: %w", err))
	}
	o.refresh(ctx, &ec, project)

	if err := w.Validate(req); err != nil {
		return nil, o.fail(ctx, kind, err)
	}

	dctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	resp, err := o.dispatch.Dispatch(dctx, w, req, ec)
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
			err = &domain.TimeoutError{Worker: kind, TimeoutMs: o.cfg.RequestTimeout.Milliseconds()}
		}
		return nil, o.fail(ctx, kind, err)
	}

	o.recordPhase(ctx, kind, &ec, resp)
	o.publishPair(ctx, req, kind, resp)

	o.observe(kind, time.Since(start))
	observability.EndRequest(string(kind), "ok")
	slog.InfoContext(ctx, "request processed",
		slog.String("worker", string(kind)),
		slog.String("request_id", req.ID),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return resp, nil
}

// Rules returns the effective routing rules in evaluation order.
func (o *Orchestrator) Rules() []router.Rule { return o.router.Rules() }

// AddRule registers an admin routing rule.
func (o *Orchestrator) AddRule(rule router.Rule) error { return o.router.AddRule(rule) }

// RemoveRule drops a routing rule by name.
func (o *Orchestrator) RemoveRule(name string) error { return o.router.RemoveRule(name) }

// Budget reports a user's position against the monthly budget.
func (o *Orchestrator) Budget(ctx domain.Context, userID string) (domain.BudgetStatus, error) {
	return o.budget.Status(ctx, userID)
}

// UsageStats aggregates a user's ledger entries.
func (o *Orchestrator) UsageStats(ctx domain.Context, userID string, f domain.StatsFilter) (domain.UsageStats, error) {
	return o.budget.Stats(ctx, userID, f)
}

// precheck enforces the request invariants that hold independently of any
// worker: identity fields present and content non-empty.
func precheck(req domain.Request) error {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return fmt.Errorf("op=orchestrator.precheck: %w: user id required", domain.ErrValidation)
	case strings.TrimSpace(req.ProjectID) == "":
		return fmt.Errorf("op=orchestrator.precheck: %w: project id required", domain.ErrValidation)
	case strings.TrimSpace(req.Content) == "":
		return fmt.Errorf("op=orchestrator.precheck: %w: content required", domain.ErrValidation)
	}
	return nil
}

// admit estimates the worst case cost of the call (prompt tokens plus the
// full completion allowance) and runs the per-user limiter against it.
func (o *Orchestrator) admit(ctx domain.Context, req domain.Request) error {
	tokens, err := o.counter.CountTokens(req.Content, o.cfg.ChatModel)
	if err != nil {
		slog.WarnContext(ctx, "token count failed, using length estimate",
			slog.String("model", o.cfg.ChatModel), slog.Any("error", err))
		tokens = len(req.Content) / 4
	}
	cost := o.pricer.EstimateCost(ctx, o.cfg.ChatModel, tokens+o.cfg.ChatMaxTokens)
	return o.limiter.Allow(ctx, req.UserID, cost)
}

// routingContext derives the record the rules evaluate against. The
// project read is load-bearing and already happened; the preferences read
// degrades to defaults like the context store does.
func (o *Orchestrator) routingContext(ctx domain.Context, req domain.Request, p domain.Project) (domain.RoutingContext, error) {
	rt, last, err := o.conversationState(ctx, req)
	if err != nil {
		return domain.RoutingContext{}, err
	}
	if last == "" {
		last = lastPhaseWorker(p)
	}

	rc := domain.RoutingContext{
		CurrentPhase:    currentPhase(p),
		ProjectStatus:   p.Status,
		PreviousPhases:  phaseSummaries(p.Phases),
		ContentLength:   len(req.Content),
		LastWorker:      last,
		RequestType:     rt,
		PreferredWorker: req.PreferredWorker,
	}
	prefs, err := o.projects.Preferences(ctx, req.UserID)
	if err != nil {
		slog.WarnContext(ctx, "preferences read failed, routing with defaults",
			slog.String("user_id", req.UserID), slog.Any("error", err))
	} else {
		rc.UserPreferences = prefs
	}
	return rc, nil
}

// conversationState probes the conversation to classify the request and
// recover the worker that answered last. A missing conversation ID means a
// new conversation; probe errors propagate since routing depends on them.
func (o *Orchestrator) conversationState(ctx domain.Context, req domain.Request) (domain.RequestType, domain.WorkerKind, error) {
	rt := domain.RequestNewConversation
	var last domain.WorkerKind
	if req.ConversationID != "" {
		msgs, err := o.messages.ListByConversation(ctx, req.ConversationID, 2)
		if err != nil {
			return "", "", fmt.Errorf("op=orchestrator.conversation: %w", err)
		}
		if len(msgs) > 0 {
			rt = domain.RequestContinueConversation
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == domain.RoleAgent && msgs[i].WorkerKind.Valid() {
				last = msgs[i].WorkerKind
				break
			}
		}
	}
	if req.OptionBool("phase_transition") {
		rt = domain.RequestPhaseTransition
	}
	return rt, last, nil
}

// currentPhase resolves the phase kind routing sees. A project with no
// phases yet is treated as ideation; a project whose phases are all
// settled has no current phase.
func currentPhase(p domain.Project) domain.WorkerKind {
	if ph := p.ActivePhase(); ph != nil {
		return ph.Kind
	}
	if len(p.Phases) == 0 {
		return domain.WorkerIdeation
	}
	return ""
}

// lastPhaseWorker returns the kind of the most recent non-pending phase.
func lastPhaseWorker(p domain.Project) domain.WorkerKind {
	for i := len(p.Phases) - 1; i >= 0; i-- {
		if p.Phases[i].Status != domain.PhasePending {
			return p.Phases[i].Kind
		}
	}
	return ""
}

// phaseSummaries mirrors the project's phase record into the routing view,
// skipping phases that never started.
func phaseSummaries(phases []domain.Phase) []domain.PhaseSummary {
	var out []domain.PhaseSummary
	for _, ph := range phases {
		if ph.Status == domain.PhasePending {
			continue
		}
		out = append(out, domain.PhaseSummary{
			WorkerKind:  ph.Kind,
			Status:      ph.Status,
			Outputs:     ph.Outputs,
			CompletedAt: ph.CompletedAt,
		})
	}
	return out
}

// refresh overwrites the cached context sections that go stale between
// calls. The project row is already in hand; a history read failure keeps
// the cached history.
func (o *Orchestrator) refresh(ctx domain.Context, ec *domain.EnrichedContext, p domain.Project) {
	ec.ProjectContent = p.Content
	hist, err := o.messages.RecentConversations(ctx, ec.ProjectID, o.cfg.HistoryLimit)
	if err != nil {
		slog.WarnContext(ctx, "history refresh failed, keeping cached history",
			slog.String("project_id", ec.ProjectID), slog.Any("error", err))
		return
	}
	ec.ConversationHistory = hist
}

// recordPhase appends the completed call to the context entry and saves
// it, so later calls and other conversations on the project see the work.
func (o *Orchestrator) recordPhase(ctx domain.Context, kind domain.WorkerKind, ec *domain.EnrichedContext, resp *domain.Response) {
	now := time.Now().UTC()
	summary := domain.PhaseSummary{
		WorkerKind:  kind,
		Status:      domain.PhaseCompleted,
		Summary:     domain.Snippet(resp.Content, 200),
		CompletedAt: &now,
	}
	if resp.PhaseOutputs != nil {
		summary.Outputs = phaseOutputsMap(resp.PhaseOutputs)
	}
	ec.PreviousPhases = append(ec.PreviousPhases, summary)
	ec.UpdatedAt = now
	o.store.Save(ctx, *ec)
}

// phaseOutputsMap flattens structured outputs to the summary shape stored
// in context entries: counts rather than payloads, to keep entries small.
func phaseOutputsMap(po *domain.PhaseOutputs) map[string]any {
	out := make(map[string]any, len(po.Extra)+4)
	for k, v := range po.Extra {
		out[k] = v
	}
	if n := len(po.Claims); n > 0 {
		out["claims"] = n
	}
	if n := len(po.FactCheckResults); n > 0 {
		out["fact_check_results"] = n
	}
	if n := len(po.Conflicts); n > 0 {
		out["conflicts"] = n
	}
	if n := len(po.SEOSuggestions); n > 0 {
		out["seo_suggestions"] = n
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// publishPair emits the user+agent rows for asynchronous persistence.
// Produce failures are logged and absorbed; the response already stands.
func (o *Orchestrator) publishPair(ctx domain.Context, req domain.Request, kind domain.WorkerKind, resp *domain.Response) {
	if o.queue == nil {
		return
	}
	now := time.Now().UTC()
	event := domain.MessagePairEvent{
		RequestID:      req.ID,
		ConversationID: req.ConversationID,
		User: domain.Message{
			ID:             uuid.NewString(),
			ConversationID: req.ConversationID,
			ProjectID:      req.ProjectID,
			UserID:         req.UserID,
			Role:           domain.RoleUser,
			Content:        req.Content,
			CreatedAt:      now,
		},
		Agent: domain.Message{
			ID:             uuid.NewString(),
			ConversationID: req.ConversationID,
			ProjectID:      req.ProjectID,
			UserID:         req.UserID,
			Role:           domain.RoleAgent,
			WorkerKind:     kind,
			Content:        resp.Content,
			Metadata: map[string]any{
				"model":        resp.Metadata.Model,
				"confidence":   resp.Metadata.Confidence,
				"total_tokens": resp.Metadata.TokenUsage.Total,
				"cost_usd":     resp.Metadata.TokenUsage.CostUSD,
			},
			// Strictly after the user row so history ordering holds.
			CreatedAt: now.Add(time.Millisecond),
		},
	}
	if err := o.queue.PublishMessagePair(ctx, event); err != nil {
		slog.ErrorContext(ctx, "message pair publish failed",
			slog.String("request_id", req.ID),
			slog.String("conversation_id", req.ConversationID),
			slog.Any("error", err))
	}
}

// observe folds the request duration into the worker's running average
// and exports it.
func (o *Orchestrator) observe(kind domain.WorkerKind, elapsed time.Duration) {
	ms := float64(elapsed) / float64(time.Millisecond)
	o.mu.Lock()
	if prev, ok := o.ema[kind]; ok {
		ms = emaAlpha*ms + (1-emaAlpha)*prev
	}
	o.ema[kind] = ms
	o.mu.Unlock()
	observability.SetProcessingTimeEMA(string(kind), ms)
}

// fail finishes an aborted request: error-kind counter, request total,
// and a log line at a severity matching the failure class.
func (o *Orchestrator) fail(ctx domain.Context, kind domain.WorkerKind, err error) error {
	code := errorCode(err)
	observability.RecordRequestError(code)
	worker := string(kind)
	if worker == "" {
		worker = "none"
	}
	observability.EndRequest(worker, "error")

	level := slog.LevelError
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrRateLimited) {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "request failed",
		slog.String("worker", worker),
		slog.String("code", code),
		slog.Any("error", err))
	return err
}

// errorCode maps the error taxonomy onto the metric label set.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrNoAgentAvailable):
		return "no_agent_available"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, domain.ErrWorkerCallFailed):
		return "worker_call_failed"
	case errors.Is(err, domain.ErrUpstream):
		return "upstream"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
