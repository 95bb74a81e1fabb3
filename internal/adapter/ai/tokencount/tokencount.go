// Package tokencount counts tokens for LLM API calls via tiktoken-go.
// The orchestrator prices admission checks with these counts before any
// provider call happens, and the dev stub fabricates usage from them.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// Chat framing overhead for OpenAI-compatible APIs, per the OpenAI
// cookbook's counting guide for gpt-3.5-turbo/gpt-4.
const (
	msgFraming  = 3 // tokens added around every message
	roleTag     = 1 // extra token for the role field
	replyPrimer = 3 // every reply is primed with <|start|>assistant<|message|>
)

// Counter caches one tiktoken encoding per normalized model name. Safe for
// concurrent use.
type Counter struct {
	encodings sync.Map // normalized model -> *tiktoken.Tiktoken
}

// NewCounter creates a token counter.
func NewCounter() *Counter {
	return &Counter{}
}

// encoding resolves the tiktoken encoding for a model. Unknown models fall
// back to cl100k_base, which covers GPT-4, GPT-3.5-turbo and most modern
// families. Concurrent resolvers may race; LoadOrStore keeps one winner.
func (c *Counter) encoding(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModelName(model)
	if cached, ok := c.encodings.Load(name); ok {
		return cached.(*tiktoken.Tiktoken), nil
	}

	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model),
			slog.String("normalized", name),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	actual, _ := c.encodings.LoadOrStore(name, enc)
	return actual.(*tiktoken.Tiktoken), nil
}

// normalizeModelName maps provider-qualified model IDs ("openai/gpt-4o-mini",
// "meta-llama/llama-3.1-8b-instruct:free") onto the tiktoken names we count
// with. Everything that is not a gpt-3.5 family model counts as gpt-4; the
// error for non-OpenAI families is small enough for cost estimation.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	model = strings.TrimSuffix(model, ":free")

	if strings.HasPrefix(model, "gpt-3.5") {
		return "gpt-3.5-turbo"
	}
	return "gpt-4"
}

// CountTokens counts the tokens in a text string for a given model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountChatTokens counts the prompt tokens of a chat completion request,
// including the per-message framing overhead.
func (c *Counter) CountChatTokens(messages []domain.ChatMessage, model string) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	tok := func(s string) int { return len(enc.Encode(s, nil, nil)) }

	total := replyPrimer
	for _, m := range messages {
		total += msgFraming + roleTag + tok(m.Role) + tok(m.Content)
	}
	return total, nil
}

// EstimateUsage computes usage for an exchange without provider-reported
// numbers. Falls back to a ~4 chars/token estimate when encoding fails.
func (c *Counter) EstimateUsage(messages []domain.ChatMessage, completion, model string) domain.Usage {
	prompt, err := c.CountChatTokens(messages, model)
	if err != nil {
		slog.Warn("failed to count prompt tokens, using estimate",
			slog.String("model", model),
			slog.Any("error", err))
		prompt = 0
		for _, m := range messages {
			prompt += charEstimate(m.Content)
		}
	}

	compl, err := c.CountTokens(completion, model)
	if err != nil {
		slog.Warn("failed to count completion tokens, using estimate",
			slog.String("model", model),
			slog.Any("error", err))
		compl = charEstimate(completion)
	}

	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: compl,
		TotalTokens:      prompt + compl,
	}
}

func charEstimate(s string) int { return len(s) / 4 }
