// Package factcheck implements the fact-checking worker: claim extraction,
// per-claim verification against search providers, credibility-weighted
// verdicts, conflict detection and SEO suggestions. Every internal failure
// degrades to a fallback response; Process never returns an error.
package factcheck

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/ai"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/breaker"
)

const factCheckRole = "You are the fact-checking specialist in a collaborative writing studio. " +
	"You verify factual claims against cited sources and answer with strict JSON when asked."

// Config tunes the worker. Zero values fall back to the published defaults.
type Config struct {
	MaxContent         int
	MaxClaimsLLM       int
	MaxClaimsHeuristic int
	MinSearchResults   int
	MaxSearchResults   int
	ClaimSearchDelay   time.Duration
	// TrustedDomains merges over the built-in credibility table.
	TrustedDomains map[string]float64
}

func (c Config) withDefaults() Config {
	if c.MaxClaimsLLM <= 0 {
		c.MaxClaimsLLM = 10
	}
	if c.MaxClaimsHeuristic <= 0 {
		c.MaxClaimsHeuristic = 8
	}
	if c.MinSearchResults <= 0 {
		c.MinSearchResults = 3
	}
	if c.MaxSearchResults <= 0 {
		c.MaxSearchResults = 5
	}
	if c.ClaimSearchDelay <= 0 {
		c.ClaimSearchDelay = 500 * time.Millisecond
	}
	return c
}

// Worker is the factchecker role.
type Worker struct {
	llm      domain.LLMClient
	cleaner  *ai.ResponseCleaner
	facts    domain.FactCache
	verifier *verifier
	cfg      Config

	mu       sync.Mutex
	requests int64
	failures int64
	totalMs  float64
}

// New builds the fact-check worker. topUp is the commercial provider used
// when the primary returns too few results; nil disables the top-up.
func New(llm domain.LLMClient, facts domain.FactCache, primary, topUp domain.SearchProvider, breakers *breaker.Registry, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		llm:      llm,
		cleaner:  ai.NewResponseCleaner(),
		facts:    facts,
		verifier: newVerifier(primary, topUp, breakers, cfg),
		cfg:      cfg,
	}
}

// Kind implements domain.Worker.
func (w *Worker) Kind() domain.WorkerKind { return domain.WorkerFactChecker }

// Validate implements domain.Worker.
func (w *Worker) Validate(req domain.Request) error {
	if strings.TrimSpace(req.Content) == "" {
		return fmt.Errorf("op=factcheck.validate: %w: content required", domain.ErrValidation)
	}
	if w.cfg.MaxContent > 0 && len([]rune(req.Content)) > w.cfg.MaxContent {
		return fmt.Errorf("op=factcheck.validate: %w: content exceeds %d characters",
			domain.ErrValidation, w.cfg.MaxContent)
	}
	return nil
}

// BuildSystemContext implements domain.Worker.
func (w *Worker) BuildSystemContext(ec domain.EnrichedContext) string {
	var sb strings.Builder
	sb.WriteString(factCheckRole)
	if ec.ProjectContent != "" {
		sb.WriteString("\nThe piece under review (excerpt): ")
		sb.WriteString(domain.Snippet(ec.ProjectContent, 400))
	}
	if sg := ec.StyleGuide; sg != nil && sg.TargetAudience != "" {
		sb.WriteString("\nTarget audience: " + sg.TargetAudience)
	}
	return sb.String()
}

// HealthCheck implements domain.Worker. The search providers are optional
// at runtime (verification degrades), so only the hard dependencies count.
func (w *Worker) HealthCheck(domain.Context) error {
	if w.llm == nil {
		return fmt.Errorf("op=factcheck.health: %w: no chat client", domain.ErrInternal)
	}
	return nil
}

// Stats implements domain.Worker.
func (w *Worker) Stats() domain.WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := domain.WorkerStats{Requests: w.requests, Failures: w.failures}
	if w.requests > 0 {
		s.AvgLatencyMs = w.totalMs / float64(w.requests)
	}
	return s
}

// Process implements domain.Worker. It always returns a well-formed
// response: irrecoverable failures (including panics in the pipeline)
// produce the generic fallback instead of an error.
func (w *Worker) Process(ctx domain.Context, req domain.Request, _ domain.EnrichedContext, spec domain.CallSpec) (resp *domain.Response, err error) {
	start := time.Now()
	defer func() {
		var panicked bool
		if r := recover(); r != nil {
			slog.Error("fact check pipeline panicked",
				slog.String("request_id", req.ID), slog.Any("panic", r))
			resp = w.fallback()
			panicked = true
		}
		elapsed := time.Since(start)
		resp.Metadata.ProcessingTimeMs = elapsed.Milliseconds()
		resp.Metadata.Model = spec.Model

		w.mu.Lock()
		w.requests++
		w.totalMs += float64(elapsed.Milliseconds())
		if panicked {
			w.failures++
		}
		w.mu.Unlock()
	}()

	resp = w.run(ctx, req, spec)
	return resp, nil
}

func (w *Worker) run(ctx domain.Context, req domain.Request, spec domain.CallSpec) *domain.Response {
	var usage domain.Usage

	claims, u := w.extractClaims(ctx, req.Content, spec)
	addUsage(&usage, u)

	results := make([]domain.FactCheckResult, 0, len(claims))
	for _, claim := range claims {
		if cached, ok := w.facts.Get(ctx, claim.Text); ok {
			observability.ObserveCacheLookup("fact", "factchecker", true)
			reused := *cached
			reused.ClaimID = claim.ID
			results = append(results, reused)
			continue
		}
		observability.ObserveCacheLookup("fact", "factchecker", false)

		if err := w.verifier.pace.Wait(ctx); err != nil {
			slog.Warn("claim verification cut short",
				slog.String("request_id", req.ID), slog.Any("error", err))
			break
		}

		sources := w.verifier.sourcesFor(ctx, claim)
		verdict, vu := w.analyze(ctx, claim, sources, spec)
		addUsage(&usage, vu)

		w.facts.Set(ctx, claim.Text, &verdict)
		results = append(results, verdict)
	}

	conflicts := detectConflicts(claims, results)

	seo, su := w.seoSuggestions(ctx, req.Content, spec)
	addUsage(&usage, su)

	return w.assemble(claims, results, conflicts, seo, usage)
}

func addUsage(total *domain.Usage, u domain.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}
