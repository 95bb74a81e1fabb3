// Package worker implements the four role workers and the registry that
// dispatches to them. The ideation, refiner and media roles are thin
// prompt-wrappers around the chat client; the fact checker lives in the
// factcheck subpackage.
package worker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// base carries what every LLM-backed role shares: the chat client, content
// validation, latency/failure accounting and the response assembly.
type base struct {
	kind       domain.WorkerKind
	llm        domain.LLMClient
	maxContent int
	confidence float64

	mu       sync.Mutex
	requests int64
	failures int64
	totalMs  float64
}

func newBase(kind domain.WorkerKind, llm domain.LLMClient, maxContent int, confidence float64) base {
	return base{kind: kind, llm: llm, maxContent: maxContent, confidence: confidence}
}

// Kind implements domain.Worker.
func (b *base) Kind() domain.WorkerKind { return b.kind }

// Validate implements domain.Worker.
func (b *base) Validate(req domain.Request) error {
	if strings.TrimSpace(req.Content) == "" {
		return fmt.Errorf("op=worker.validate: %w: content required", domain.ErrValidation)
	}
	if b.maxContent > 0 && len([]rune(req.Content)) > b.maxContent {
		return fmt.Errorf("op=worker.validate: %w: content exceeds %d characters",
			domain.ErrValidation, b.maxContent)
	}
	return nil
}

// HealthCheck implements domain.Worker. Role workers are healthy when the
// chat client is wired; live upstream state is the circuit breaker's call.
func (b *base) HealthCheck(domain.Context) error {
	if b.llm == nil {
		return fmt.Errorf("op=worker.health: %w: no chat client", domain.ErrInternal)
	}
	return nil
}

// Stats implements domain.Worker.
func (b *base) Stats() domain.WorkerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := domain.WorkerStats{Requests: b.requests, Failures: b.failures}
	if b.requests > 0 {
		s.AvgLatencyMs = b.totalMs / float64(b.requests)
	}
	return s
}

func (b *base) observe(elapsed time.Duration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests++
	b.totalMs += float64(elapsed.Milliseconds())
	if err != nil {
		b.failures++
	}
}

// complete runs the chat call and assembles the role response. Provider
// errors pass through wrapped so the dispatcher can classify them.
func (b *base) complete(ctx domain.Context, req domain.Request, spec domain.CallSpec, nextSteps []string, suggestions []domain.Suggestion) (*domain.Response, error) {
	start := time.Now()
	out, err := b.llm.Chat(ctx, domain.ChatRequest{
		Model: spec.Model,
		Messages: []domain.ChatMessage{
			{Role: "system", Content: spec.SystemPrompt},
			{Role: "user", Content: req.Content},
		},
		MaxTokens:   spec.MaxTokens,
		Temperature: spec.Temperature,
		Tags:        domain.CallTags{Worker: b.kind, UserID: req.UserID, RequestID: req.ID},
	})
	elapsed := time.Since(start)
	b.observe(elapsed, err)
	if err != nil {
		return nil, fmt.Errorf("op=worker.process: %w", err)
	}

	return &domain.Response{
		Content:     out.Content,
		Suggestions: suggestions,
		Metadata: domain.ResponseMetadata{
			ProcessingTimeMs: elapsed.Milliseconds(),
			TokenUsage: domain.TokenUsage{
				Prompt:     out.Usage.PromptTokens,
				Completion: out.Usage.CompletionTokens,
				Total:      out.Usage.TotalTokens,
			},
			Model:      spec.Model,
			Confidence: b.confidence,
			NextSteps:  nextSteps,
		},
	}, nil
}

// systemContext renders the shared context block appended to every role
// prompt. Field order is fixed: the response-cache fingerprint hashes this
// text, so identical context must render identically.
func systemContext(role string, ec domain.EnrichedContext) string {
	var sb strings.Builder
	sb.WriteString(role)

	sb.WriteString("\n\nWriter profile: personality=")
	sb.WriteString(orDefault(ec.UserPreferences.Personality, "casual"))
	sb.WriteString(", experience=")
	sb.WriteString(orDefault(ec.UserPreferences.Experience, "intermediate"))
	if len(ec.UserPreferences.Genres) > 0 {
		sb.WriteString(", genres=")
		sb.WriteString(strings.Join(ec.UserPreferences.Genres, "/"))
	}

	if sg := ec.StyleGuide; sg != nil {
		sb.WriteString("\nStyle guide:")
		if sg.Tone != "" {
			sb.WriteString(" tone=" + sg.Tone + ";")
		}
		if sg.TargetAudience != "" {
			sb.WriteString(" audience=" + sg.TargetAudience + ";")
		}
		if len(sg.ReferenceWriters) > 0 {
			sb.WriteString(" reference writers: " + strings.Join(sg.ReferenceWriters, ", "))
		}
		if sg.ExampleText != "" {
			sb.WriteString("\nStyle example: " + domain.Snippet(sg.ExampleText, 240))
		}
	}

	if ec.ProjectContent != "" {
		sb.WriteString("\nCurrent draft (excerpt): ")
		sb.WriteString(domain.Snippet(ec.ProjectContent, 600))
	}

	var completed []string
	for _, ph := range ec.PreviousPhases {
		if ph.Status != domain.PhaseCompleted {
			continue
		}
		line := string(ph.WorkerKind)
		if ph.Summary != "" {
			line += " (" + domain.Snippet(ph.Summary, 120) + ")"
		}
		completed = append(completed, line)
	}
	if len(completed) > 0 {
		sb.WriteString("\nCompleted phases: ")
		sb.WriteString(strings.Join(completed, "; "))
	}

	if n := len(ec.ConversationHistory); n > 0 {
		sb.WriteString(fmt.Sprintf("\nRecent conversations (%d):", n))
		for i, cs := range ec.ConversationHistory {
			if i == 3 {
				break
			}
			sb.WriteString(fmt.Sprintf("\n- [%s] %s", cs.WorkerKind, domain.Snippet(cs.LastMessageSnippet, 100)))
		}
	}

	return sb.String()
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
