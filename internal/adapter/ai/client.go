// Package ai implements the chat-completion provider adapter plus the
// response hygiene helpers (JSON cleaning, refusal detection) that gate
// structured LLM output.
package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"log/slog"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// Dependency name used for breaker accounting and error payloads.
const upstreamName = "openai"

// Client calls an OpenAI-compatible chat-completions endpoint. It makes a
// single attempt per call: retries, breaker permits and caching belong to
// the dispatch layer, so every failure is classified into a
// domain.UpstreamError the dispatcher can interrogate.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// New constructs a chat client. timeout bounds a single HTTP exchange, not
// the whole dispatch (the dispatcher owns the request deadline).
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("LLM %s %s", r.Method, r.URL.Host)
		}),
	)
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: timeout, Transport: transport},
	}
}

type chatRequestBody struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature float64              `json:"temperature,omitempty"`
}

type chatResponseBody struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat implements domain.LLMClient.
func (c *Client) Chat(ctx domain.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	if c.apiKey == "" {
		return domain.ChatResponse{}, fmt.Errorf("op=ai.chat: %w: LLM_API_KEY missing", domain.ErrValidation)
	}

	tracer := otel.Tracer("adapter.ai")
	ctx, span := tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("workerTag", string(req.Tags.Worker)),
		attribute.String("userTag", req.Tags.UserID),
		attribute.String("modelTag", req.Model),
		attribute.String("requestId", req.Tags.RequestID),
	))
	defer span.End()

	body, err := json.Marshal(chatRequestBody{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("op=ai.chat: marshal: %w", err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("op=ai.chat: %w", err)
	}
	r.Header.Set("Authorization", "Bearer "+c.apiKey)
	r.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(r)
	if err != nil {
		// Transport failures carry status 0 and stay retryable.
		slog.Warn("llm request failed",
			slog.String("provider", upstreamName),
			slog.String("model", req.Model),
			slog.Any("error", err))
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: upstreamName, Status: 0, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: upstreamName, Status: 0, Message: "read body: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := domain.Snippet(string(respBody), 512)
		level := slog.LevelError
		if resp.StatusCode == http.StatusTooManyRequests {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "llm provider non-2xx",
			slog.String("provider", upstreamName),
			slog.Int("status", resp.StatusCode),
			slog.String("model", req.Model),
			slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
			slog.String("body", snippet),
			slog.Duration("elapsed", time.Since(start)))
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: upstreamName, Status: resp.StatusCode, Message: snippet}
	}

	var out chatResponseBody
	if err := json.Unmarshal(respBody, &out); err != nil {
		slog.Error("llm response decode failed",
			slog.String("provider", upstreamName),
			slog.String("model", req.Model),
			slog.Any("error", err))
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: upstreamName, Status: resp.StatusCode, Message: "decode: " + err.Error()}
	}
	if len(out.Choices) == 0 {
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: upstreamName, Status: resp.StatusCode, Message: "empty choices"}
	}
	// Cost accounting depends on provider-measured usage; a 2xx without it
	// is terminal rather than something a retry can fix.
	if out.Usage == nil {
		return domain.ChatResponse{}, &domain.UpstreamError{Dependency: upstreamName, Status: resp.StatusCode, Message: "response missing usage"}
	}

	if out.Model != "" && out.Model != req.Model {
		slog.Warn("model substitution detected",
			slog.String("requested_model", req.Model),
			slog.String("actual_model", out.Model),
			slog.String("provider", upstreamName))
	}

	slog.Debug("llm call ok",
		slog.String("provider", upstreamName),
		slog.String("model", req.Model),
		slog.Int("prompt_tokens", out.Usage.PromptTokens),
		slog.Int("completion_tokens", out.Usage.CompletionTokens),
		slog.Duration("elapsed", time.Since(start)))

	return domain.ChatResponse{
		Content: out.Choices[0].Message.Content,
		Usage: domain.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}
