// Package pricing maintains the per-model usd-per-token rate table used to
// price finished requests and to estimate cost before admission.
package pricing

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// Catalog resolves a usd-per-token rate per model. Static rates come from
// configuration; when a refresh interval is set the catalog periodically
// pulls fresh rates from the provider /models endpoint and overlays them.
// Refresh failures keep the last good table, so lookups never error.
type Catalog struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string

	defaultRate     float64
	refreshInterval time.Duration

	mu        sync.RWMutex
	static    map[string]float64
	fetched   map[string]float64
	lastFetch time.Time
}

// New creates a catalog over a static rate table. A refreshInterval of zero
// or less disables provider refresh entirely.
func New(apiKey, baseURL string, static map[string]float64, defaultRate float64, refreshInterval time.Duration) *Catalog {
	rates := make(map[string]float64, len(static))
	for model, rate := range static {
		rates[normalizeModel(model)] = rate
	}
	return &Catalog{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return fmt.Sprintf("pricing %s %s", r.Method, r.URL.Host)
				}),
			),
		},
		apiKey:          apiKey,
		baseURL:         baseURL,
		defaultRate:     defaultRate,
		refreshInterval: refreshInterval,
		static:          rates,
	}
}

// USDPerToken returns the rate for a model: fetched provider rate first,
// then the static table, then the default.
func (c *Catalog) USDPerToken(ctx domain.Context, model string) float64 {
	c.maybeRefresh(ctx)

	key := normalizeModel(model)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if rate, ok := c.fetched[key]; ok {
		return rate
	}
	if rate, ok := c.static[key]; ok {
		return rate
	}
	return c.defaultRate
}

// EstimateCost prices a token count for budget admission.
func (c *Catalog) EstimateCost(ctx domain.Context, model string, tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) * c.USDPerToken(ctx, model)
}

// Cost prices the measured usage of a finished call.
func (c *Catalog) Cost(ctx domain.Context, model string, usage domain.Usage) float64 {
	return c.EstimateCost(ctx, model, usage.TotalTokens)
}

// ForceRefresh pulls rates from the provider immediately regardless of the
// refresh interval.
func (c *Catalog) ForceRefresh(ctx domain.Context) error {
	return c.fetchRates(ctx)
}

func (c *Catalog) maybeRefresh(ctx domain.Context) {
	if c.refreshInterval <= 0 || c.baseURL == "" {
		return
	}

	c.mu.RLock()
	needsRefresh := c.lastFetch.IsZero() || time.Since(c.lastFetch) > c.refreshInterval
	c.mu.RUnlock()

	if !needsRefresh {
		return
	}
	if err := c.fetchRates(ctx); err != nil {
		slog.Warn("pricing refresh failed, using cached rates", slog.Any("error", err))
		// Push the next attempt out one interval so a dead provider is not
		// hammered on every lookup.
		c.mu.Lock()
		c.lastFetch = time.Now()
		c.mu.Unlock()
	}
}

func (c *Catalog) fetchRates(ctx domain.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("op=pricing.fetch: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=pricing.fetch: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close pricing response body", slog.Any("error", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("op=pricing.fetch: provider returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data []struct {
			ID      string `json:"id"`
			Pricing struct {
				Prompt     any `json:"prompt"`
				Completion any `json:"completion"`
			} `json:"pricing"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("op=pricing.fetch: decode: %w", err)
	}

	rates := make(map[string]float64, len(payload.Data))
	for _, m := range payload.Data {
		prompt, okP := parsePrice(m.Pricing.Prompt)
		completion, okC := parsePrice(m.Pricing.Completion)
		switch {
		case okP && okC:
			rates[normalizeModel(m.ID)] = (prompt + completion) / 2
		case okP:
			rates[normalizeModel(m.ID)] = prompt
		case okC:
			rates[normalizeModel(m.ID)] = completion
		}
	}

	c.mu.Lock()
	c.fetched = rates
	c.lastFetch = time.Now()
	c.mu.Unlock()

	slog.Info("refreshed model pricing",
		slog.Int("models", len(payload.Data)),
		slog.Int("priced", len(rates)))
	return nil
}

// parsePrice reads a provider price value, which arrives as a string
// ("0.0000015"), a number, or is absent.
func parsePrice(v any) (float64, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 {
			return 0, false
		}
		return f, true
	case float64:
		if t < 0 {
			return 0, false
		}
		return t, true
	default:
		return 0, false
	}
}

// normalizeModel lowercases and strips the provider prefix so that
// "openai/GPT-4o-mini" and "gpt-4o-mini" resolve to the same rate.
func normalizeModel(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	return model
}
