package worker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

type llmStub struct {
	resp  domain.ChatResponse
	err   error
	calls int
	last  domain.ChatRequest
}

func (s *llmStub) Chat(_ domain.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return domain.ChatResponse{}, s.err
	}
	return s.resp, nil
}

func enriched() domain.EnrichedContext {
	return domain.EnrichedContext{
		ProjectID:      "proj-1",
		ConversationID: "conv-1",
		UserPreferences: domain.UserPreferences{
			Personality: "formal",
			Genres:      []string{"mystery", "thriller"},
			Experience:  "advanced",
		},
		ProjectContent: "A detective arrives in a   fog-bound port town.",
		PreviousPhases: []domain.PhaseSummary{
			{WorkerKind: domain.WorkerIdeation, Status: domain.PhaseCompleted, Summary: "Three angles drafted"},
			{WorkerKind: domain.WorkerRefiner, Status: domain.PhaseActive},
		},
		ConversationHistory: []domain.ConversationSummary{
			{ConversationID: "conv-0", WorkerKind: domain.WorkerIdeation, MessageCount: 4, LastMessageSnippet: "openers for chapter one"},
		},
		StyleGuide: &domain.StyleGuide{
			ReferenceWriters: []string{"Chandler"},
			Tone:             "noir",
			TargetAudience:   "adult readers",
		},
	}
}

func allRoles(llm domain.LLMClient) []domain.Worker {
	return []domain.Worker{
		NewIdeation(llm, 50000),
		NewRefiner(llm, 50000),
		NewMedia(llm, 50000),
	}
}

func TestValidate(t *testing.T) {
	for _, w := range allRoles(&llmStub{}) {
		t.Run(string(w.Kind()), func(t *testing.T) {
			assert.NoError(t, w.Validate(domain.Request{Content: "write something"}))

			err := w.Validate(domain.Request{Content: "   "})
			assert.ErrorIs(t, err, domain.ErrValidation)

			long := NewIdeation(&llmStub{}, 10)
			err = long.Validate(domain.Request{Content: "this is far past ten characters"})
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestBuildSystemContext(t *testing.T) {
	ec := enriched()
	for _, w := range allRoles(&llmStub{}) {
		t.Run(string(w.Kind()), func(t *testing.T) {
			prompt := w.BuildSystemContext(ec)

			assert.Contains(t, prompt, "personality=formal")
			assert.Contains(t, prompt, "experience=advanced")
			assert.Contains(t, prompt, "mystery/thriller")
			assert.Contains(t, prompt, "tone=noir")
			assert.Contains(t, prompt, "Chandler")
			assert.Contains(t, prompt, "fog-bound port town")
			assert.Contains(t, prompt, "ideation (Three angles drafted)")
			assert.NotContains(t, prompt, "refiner (", "active phases are not listed as completed")
			assert.Contains(t, prompt, "openers for chapter one")
		})
	}
}

func TestBuildSystemContext_Deterministic(t *testing.T) {
	w := NewRefiner(&llmStub{}, 0)
	ec := enriched()
	assert.Equal(t, w.BuildSystemContext(ec), w.BuildSystemContext(ec))
}

func TestBuildSystemContext_Defaults(t *testing.T) {
	w := NewIdeation(&llmStub{}, 0)
	prompt := w.BuildSystemContext(domain.EnrichedContext{})
	assert.Contains(t, prompt, "personality=casual")
	assert.Contains(t, prompt, "experience=intermediate")
	assert.NotContains(t, prompt, "Style guide")
	assert.NotContains(t, prompt, "Completed phases")
}

func TestProcess_Success(t *testing.T) {
	for _, kind := range []domain.WorkerKind{domain.WorkerIdeation, domain.WorkerRefiner, domain.WorkerMedia} {
		t.Run(string(kind), func(t *testing.T) {
			llm := &llmStub{resp: domain.ChatResponse{
				Content: "five directions you could take",
				Usage:   domain.Usage{PromptTokens: 200, CompletionTokens: 150, TotalTokens: 350},
			}}
			var w domain.Worker
			switch kind {
			case domain.WorkerIdeation:
				w = NewIdeation(llm, 0)
			case domain.WorkerRefiner:
				w = NewRefiner(llm, 0)
			default:
				w = NewMedia(llm, 0)
			}

			req := domain.Request{ID: "req-1", UserID: "user-1", Content: "help with my essay"}
			spec := domain.CallSpec{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 512, SystemPrompt: "sys"}

			resp, err := w.Process(context.Background(), req, domain.EnrichedContext{}, spec)
			require.NoError(t, err)

			assert.Equal(t, "five directions you could take", resp.Content)
			assert.Equal(t, "gpt-4o-mini", resp.Metadata.Model)
			assert.Equal(t, 200, resp.Metadata.TokenUsage.Prompt)
			assert.Equal(t, 150, resp.Metadata.TokenUsage.Completion)
			assert.Equal(t, 350, resp.Metadata.TokenUsage.Total)
			assert.Greater(t, resp.Metadata.Confidence, 0.0)
			assert.LessOrEqual(t, resp.Metadata.Confidence, 1.0)
			assert.NotEmpty(t, resp.Metadata.NextSteps)
			assert.NotEmpty(t, resp.Suggestions)

			require.Len(t, llm.last.Messages, 2)
			assert.Equal(t, "system", llm.last.Messages[0].Role)
			assert.Equal(t, "sys", llm.last.Messages[0].Content)
			assert.Equal(t, "help with my essay", llm.last.Messages[1].Content)
			assert.Equal(t, kind, llm.last.Tags.Worker)
			assert.Equal(t, "user-1", llm.last.Tags.UserID)

			stats := w.Stats()
			assert.EqualValues(t, 1, stats.Requests)
			assert.EqualValues(t, 0, stats.Failures)
		})
	}
}

func TestProcess_UpstreamErrorPassesThrough(t *testing.T) {
	llm := &llmStub{err: &domain.UpstreamError{Dependency: "openai", Status: 503, Message: "down"}}
	w := NewRefiner(llm, 0)

	_, err := w.Process(context.Background(), domain.Request{Content: "x"}, domain.EnrichedContext{}, domain.CallSpec{Model: "m"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)

	var ue *domain.UpstreamError
	require.ErrorAs(t, err, &ue, "the dispatcher needs the typed error for retry classification")
	assert.True(t, ue.Retryable())

	stats := w.Stats()
	assert.EqualValues(t, 1, stats.Requests)
	assert.EqualValues(t, 1, stats.Failures)
}

func TestHealthCheck(t *testing.T) {
	w := NewMedia(&llmStub{}, 0)
	assert.NoError(t, w.HealthCheck(context.Background()))

	broken := NewMedia(nil, 0)
	assert.Error(t, broken.HealthCheck(context.Background()))
}

func TestSystemContext_HistoryCapped(t *testing.T) {
	ec := domain.EnrichedContext{}
	for i := 0; i < 6; i++ {
		ec.ConversationHistory = append(ec.ConversationHistory, domain.ConversationSummary{
			ConversationID:     "conv",
			WorkerKind:         domain.WorkerIdeation,
			LastMessageSnippet: "snippet",
		})
	}
	prompt := systemContext("role", ec)
	assert.Contains(t, prompt, "Recent conversations (6):")
	assert.Equal(t, 3, strings.Count(prompt, "- [ideation]"), "at most three history lines are rendered")
}
