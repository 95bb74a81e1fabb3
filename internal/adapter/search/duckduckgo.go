// Package search implements the outbound search providers consulted during
// claim verification. Both providers return the uniform domain.SearchResult
// shape; breaker permits and inter-call pacing belong to the caller.
package search

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// newHTTPClient builds the provider transport with a span per outbound call,
// named after the provider rather than the raw URL.
func newHTTPClient(provider string, timeout time.Duration) *http.Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("search.%s %s %s", provider, r.Method, r.URL.Host)
		}),
	)
	return &http.Client{Timeout: timeout, Transport: transport}
}

// DuckDuckGo queries the instant-answer API. It needs no key, so it runs
// first in the verification order.
type DuckDuckGo struct {
	baseURL string
	hc      *http.Client
}

// NewDuckDuckGo constructs the provider. baseURL is overridable for tests.
func NewDuckDuckGo(baseURL string, timeout time.Duration) *DuckDuckGo {
	if baseURL == "" {
		baseURL = "https://api.duckduckgo.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DuckDuckGo{
		baseURL: baseURL,
		hc:      newHTTPClient("duckduckgo", timeout),
	}
}

// Name implements domain.SearchProvider.
func (d *DuckDuckGo) Name() string { return "duckduckgo" }

type duckduckgoResponse struct {
	Heading        string `json:"Heading"`
	AbstractText   string `json:"AbstractText"`
	AbstractURL    string `json:"AbstractURL"`
	AbstractSource string `json:"AbstractSource"`
	RelatedTopics  []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search implements domain.SearchProvider. The instant answer yields at
// most one abstract plus the top three related topics.
func (d *DuckDuckGo) Search(ctx domain.Context, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	u := fmt.Sprintf("%s/?q=%s&format=json&no_html=1", d.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("op=search.duckduckgo: %w", err)
	}

	resp, err := d.hc.Do(req)
	if err != nil {
		observability.RecordSearch(d.Name(), "error")
		return nil, &domain.UpstreamError{Dependency: "search:duckduckgo", Status: 0, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		observability.RecordSearch(d.Name(), "error")
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.UpstreamError{Dependency: "search:duckduckgo", Status: resp.StatusCode, Message: string(body)}
	}

	var out duckduckgoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observability.RecordSearch(d.Name(), "error")
		return nil, fmt.Errorf("op=search.duckduckgo: decode: %w", err)
	}

	results := make([]domain.SearchResult, 0, limit)
	if out.AbstractText != "" {
		results = append(results, domain.SearchResult{
			Title:   out.Heading,
			URL:     out.AbstractURL,
			Snippet: out.AbstractText,
			Source:  out.AbstractSource,
		})
	}

	for i := 0; i < len(out.RelatedTopics) && i < 3 && len(results) < limit; i++ {
		topic := out.RelatedTopics[i]
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		results = append(results, domain.SearchResult{
			Title:   topicTitle(topic.Text),
			URL:     topic.FirstURL,
			Snippet: topic.Text,
			Source:  hostOf(topic.FirstURL),
		})
	}

	observability.RecordSearch(d.Name(), "ok")
	slog.Debug("duckduckgo search",
		slog.String("query", domain.Snippet(query, 80)),
		slog.Int("results", len(results)))

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// topicTitle takes the leading clause of a related-topic text as its title.
func topicTitle(text string) string {
	if i := strings.Index(text, " - "); i > 0 {
		return text[:i]
	}
	return domain.Snippet(text, 60)
}

// hostOf extracts the bare hostname for credibility scoring.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}
