package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/config"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/router"
)

// stubOrchestrator records calls and returns scripted results.
type stubOrchestrator struct {
	resp     *domain.Response
	err      error
	requests []domain.Request

	rules     []router.Rule
	addErr    error
	removeErr error
	added     []router.Rule
	removed   []string

	budget   domain.BudgetStatus
	stats    domain.UsageStats
	filters  []domain.StatsFilter
	queryErr error
}

func (s *stubOrchestrator) Process(_ context.Context, req domain.Request) (*domain.Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubOrchestrator) Rules() []router.Rule { return s.rules }

func (s *stubOrchestrator) AddRule(rule router.Rule) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.added = append(s.added, rule)
	return nil
}

func (s *stubOrchestrator) RemoveRule(name string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	s.removed = append(s.removed, name)
	return nil
}

func (s *stubOrchestrator) Budget(context.Context, string) (domain.BudgetStatus, error) {
	return s.budget, s.queryErr
}

func (s *stubOrchestrator) UsageStats(_ context.Context, _ string, f domain.StatsFilter) (domain.UsageStats, error) {
	s.filters = append(s.filters, f)
	return s.stats, s.queryErr
}

func okResponse() *domain.Response {
	return &domain.Response{
		Content: "Here are three angles for your essay.",
		Metadata: domain.ResponseMetadata{
			Model:      "gpt-4o-mini",
			Confidence: 0.85,
			TokenUsage: domain.TokenUsage{Prompt: 120, Completion: 200, Total: 320, CostUSD: 0.00064},
		},
	}
}

func newTestServer(orch *stubOrchestrator) *httpserver.Server {
	cfg := config.Config{AppEnv: "test", MaxContentLength: 50000}
	return httpserver.NewServer(cfg, orch, nil, nil, nil)
}

func processBody(t *testing.T, fields map[string]any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	var obj map[string]any
	require.NoError(t, json.Unmarshal(b, &obj))
	return obj
}

func TestProcessHandler_Success(t *testing.T) {
	orch := &stubOrchestrator{resp: okResponse()}
	srv := newTestServer(orch)

	r := httptest.NewRequest(http.MethodPost, "/v1/process", processBody(t, map[string]any{
		"user_id":         "user-1",
		"project_id":      "proj-1",
		"conversation_id": "conv-1",
		"content":         "Help me brainstorm an essay about urban gardens.",
	}))
	r.Header.Set("X-Request-Id", "req-abc")
	w := httptest.NewRecorder()
	srv.ProcessHandler()(w, r)

	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	obj := decodeBody(t, resp)
	assert.Equal(t, "req-abc", obj["request_id"])
	assert.Equal(t, "conv-1", obj["conversation_id"])
	inner, ok := obj["response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Here are three angles for your essay.", inner["content"])

	require.Len(t, orch.requests, 1)
	assert.Equal(t, "req-abc", orch.requests[0].ID)
	assert.Equal(t, "user-1", orch.requests[0].UserID)
	assert.Equal(t, "conv-1", orch.requests[0].ConversationID)
}

func TestProcessHandler_MintsConversationID(t *testing.T) {
	orch := &stubOrchestrator{resp: okResponse()}
	srv := newTestServer(orch)

	r := httptest.NewRequest(http.MethodPost, "/v1/process", processBody(t, map[string]any{
		"user_id":    "user-1",
		"project_id": "proj-1",
		"content":    "Start a new piece about tide pools.",
	}))
	w := httptest.NewRecorder()
	srv.ProcessHandler()(w, r)

	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	obj := decodeBody(t, resp)
	minted, _ := obj["conversation_id"].(string)
	assert.NotEmpty(t, minted, "a fresh conversation id must be echoed")

	require.Len(t, orch.requests, 1)
	assert.Equal(t, minted, orch.requests[0].ConversationID)
	assert.NotEmpty(t, orch.requests[0].ID, "request id minted when header absent")
}

func TestProcessHandler_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing user", map[string]any{"project_id": "p", "content": "c"}},
		{"missing project", map[string]any{"user_id": "u", "content": "c"}},
		{"missing content", map[string]any{"user_id": "u", "project_id": "p"}},
		{"bad preferred worker", map[string]any{"user_id": "u", "project_id": "p", "content": "c", "preferred_worker": "oracle"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orch := &stubOrchestrator{resp: okResponse()}
			srv := newTestServer(orch)
			r := httptest.NewRequest(http.MethodPost, "/v1/process", processBody(t, tc.body))
			w := httptest.NewRecorder()
			srv.ProcessHandler()(w, r)

			resp := w.Result()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			obj := decodeBody(t, resp)
			errObj, ok := obj["error"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "VALIDATION", errObj["code"])
			assert.Empty(t, orch.requests, "invalid requests must not reach the orchestrator")
		})
	}
}

func TestProcessHandler_InvalidJSON(t *testing.T) {
	srv := newTestServer(&stubOrchestrator{resp: okResponse()})
	r := httptest.NewRequest(http.MethodPost, "/v1/process", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.ProcessHandler()(w, r)
	require.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestProcessHandler_ContentTooLong(t *testing.T) {
	orch := &stubOrchestrator{resp: okResponse()}
	srv := newTestServer(orch)
	srv.Cfg.MaxContentLength = 100

	r := httptest.NewRequest(http.MethodPost, "/v1/process", processBody(t, map[string]any{
		"user_id":    "user-1",
		"project_id": "proj-1",
		"content":    strings.Repeat("a", 101),
	}))
	w := httptest.NewRecorder()
	srv.ProcessHandler()(w, r)

	resp := w.Result()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	obj := decodeBody(t, resp)
	errObj := obj["error"].(map[string]any)
	details, ok := errObj["details"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 100, details["max_content_length"])
	assert.Empty(t, orch.requests)
}

func TestProcessHandler_RejectsNonJSONAccept(t *testing.T) {
	srv := newTestServer(&stubOrchestrator{resp: okResponse()})
	r := httptest.NewRequest(http.MethodPost, "/v1/process", processBody(t, map[string]any{
		"user_id": "u", "project_id": "p", "content": "c",
	}))
	r.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()
	srv.ProcessHandler()(w, r)
	require.Equal(t, http.StatusNotAcceptable, w.Result().StatusCode)
}

func TestProcessHandler_RateLimitedCarriesRetryAfter(t *testing.T) {
	orch := &stubOrchestrator{err: fmt.Errorf("op=orchestrator.admit: %w",
		&domain.RateLimitedError{Reason: domain.ReasonWindow, RetryAfterMs: 12500})}
	srv := newTestServer(orch)

	r := httptest.NewRequest(http.MethodPost, "/v1/process", processBody(t, map[string]any{
		"user_id": "user-1", "project_id": "proj-1", "content": "anything",
	}))
	w := httptest.NewRecorder()
	srv.ProcessHandler()(w, r)

	resp := w.Result()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "13", resp.Header.Get("Retry-After"))
	obj := decodeBody(t, resp)
	errObj := obj["error"].(map[string]any)
	assert.Equal(t, "RATE_LIMITED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "window", details["reason"])
}

func TestProcessHandler_TimeoutMapsTo504(t *testing.T) {
	orch := &stubOrchestrator{err: &domain.TimeoutError{Worker: domain.WorkerRefiner, TimeoutMs: 30000}}
	srv := newTestServer(orch)

	r := httptest.NewRequest(http.MethodPost, "/v1/process", processBody(t, map[string]any{
		"user_id": "user-1", "project_id": "proj-1", "content": "anything",
	}))
	w := httptest.NewRecorder()
	srv.ProcessHandler()(w, r)

	resp := w.Result()
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	obj := decodeBody(t, resp)
	errObj := obj["error"].(map[string]any)
	assert.Equal(t, "TIMEOUT", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "refiner", details["worker"])
}

func TestProcessHandler_InternalErrorIsOpaque(t *testing.T) {
	orch := &stubOrchestrator{err: fmt.Errorf("pgx: connection reset while writing ledger row")}
	srv := newTestServer(orch)

	r := httptest.NewRequest(http.MethodPost, "/v1/process", processBody(t, map[string]any{
		"user_id": "user-1", "project_id": "proj-1", "content": "anything",
	}))
	w := httptest.NewRecorder()
	srv.ProcessHandler()(w, r)

	resp := w.Result()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	obj := decodeBody(t, resp)
	errObj := obj["error"].(map[string]any)
	assert.Equal(t, "INTERNAL", errObj["code"])
	assert.Equal(t, "internal error", errObj["message"], "raw error detail must not leak")
}

func TestReadyzHandler(t *testing.T) {
	t.Run("all ok", func(t *testing.T) {
		srv := newTestServer(&stubOrchestrator{})
		srv.DBCheck = func(context.Context) error { return nil }
		srv.RedisCheck = func(context.Context) error { return nil }
		srv.KafkaCheck = func(context.Context) error { return nil }

		w := httptest.NewRecorder()
		srv.ReadyzHandler()(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		resp := w.Result()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		obj := decodeBody(t, resp)
		checks := obj["checks"].([]any)
		assert.Len(t, checks, 3)
	})

	t.Run("db down", func(t *testing.T) {
		srv := newTestServer(&stubOrchestrator{})
		srv.DBCheck = func(context.Context) error { return fmt.Errorf("dial tcp: refused") }
		srv.RedisCheck = func(context.Context) error { return nil }
		srv.KafkaCheck = func(context.Context) error { return nil }

		w := httptest.NewRecorder()
		srv.ReadyzHandler()(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		require.Equal(t, http.StatusServiceUnavailable, w.Result().StatusCode)
	})
}

// withURLParam injects a chi route parameter for handler-level tests.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
