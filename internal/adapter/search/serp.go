package search

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"log/slog"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// SERP queries a SerpAPI-compatible endpoint. Key-gated; the verifier only
// tops up from it when DuckDuckGo returned too few results.
type SERP struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// NewSERP constructs the provider. baseURL is overridable for tests.
func NewSERP(baseURL, apiKey string, timeout time.Duration) *SERP {
	if baseURL == "" {
		baseURL = "https://serpapi.com/search"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SERP{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      newHTTPClient("serp", timeout),
	}
}

// Name implements domain.SearchProvider.
func (s *SERP) Name() string { return "serp" }

// Enabled reports whether the provider has a key to call with.
func (s *SERP) Enabled() bool { return s.apiKey != "" }

type serpResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Source  string `json:"source"`
		Date    string `json:"date"`
	} `json:"organic_results"`
}

// Search implements domain.SearchProvider, returning up to three organic
// results (or fewer if limit is smaller).
func (s *SERP) Search(ctx domain.Context, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	if !s.Enabled() {
		return nil, fmt.Errorf("op=search.serp: %w: SERP_API_KEY missing", domain.ErrValidation)
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("api_key", s.apiKey)
	q.Set("engine", "google")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("op=search.serp: %w", err)
	}

	resp, err := s.hc.Do(req)
	if err != nil {
		observability.RecordSearch(s.Name(), "error")
		return nil, &domain.UpstreamError{Dependency: "search:serp", Status: 0, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		observability.RecordSearch(s.Name(), "error")
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.UpstreamError{Dependency: "search:serp", Status: resp.StatusCode, Message: string(body)}
	}

	var out serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observability.RecordSearch(s.Name(), "error")
		return nil, fmt.Errorf("op=search.serp: decode: %w", err)
	}

	max := limit
	if max > 3 {
		max = 3
	}
	results := make([]domain.SearchResult, 0, max)
	for _, r := range out.OrganicResults {
		if len(results) >= max {
			break
		}
		if r.Link == "" {
			continue
		}
		source := r.Source
		if source == "" {
			source = hostOf(r.Link)
		}
		results = append(results, domain.SearchResult{
			Title:       r.Title,
			URL:         r.Link,
			Snippet:     r.Snippet,
			Source:      source,
			PublishDate: r.Date,
		})
	}

	observability.RecordSearch(s.Name(), "ok")
	slog.Debug("serp search",
		slog.String("query", domain.Snippet(query, 80)),
		slog.Int("results", len(results)))
	return results, nil
}
