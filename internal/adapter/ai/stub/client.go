// Package stub provides a fast, deterministic LLM client for local
// development and tests. No network calls; usage is fabricated with the
// token counter so budget accounting stays exercised.
package stub

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// Client implements domain.LLMClient without a provider.
type Client struct {
	counter *tokencount.Counter
}

// New constructs a stub client.
func New() *Client {
	return &Client{counter: tokencount.NewCounter()}
}

// Chat returns a canned reply derived from the last user message. A tiny
// sleep keeps processing-time metrics non-zero.
func (c *Client) Chat(_ domain.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	time.Sleep(50 * time.Millisecond)

	lastUser := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUser = req.Messages[i].Content
			break
		}
	}

	content := fmt.Sprintf(
		"Here is a draft response for your writing request.\n\n%s\n\nConsider tightening the opening paragraph and adding a concrete example.",
		domain.Snippet(lastUser, 200),
	)

	return domain.ChatResponse{
		Content: content,
		Usage:   c.counter.EstimateUsage(req.Messages, content, req.Model),
	}, nil
}
