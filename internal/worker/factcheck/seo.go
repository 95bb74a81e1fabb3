package factcheck

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/ai"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

const seoPrompt = `Suggest search-engine optimizations for the text below.
Answer with a JSON array only, no prose, at most %d elements:
{"kind": "internal_link|external_link|keyword|meta|structure", "title": "...", "description": "...", "implementation": "<concrete edit to make>", "priority": "high|medium|low", "estimatedImpact": "..."}`

const maxSEOSuggestions = 8

type llmSEOSuggestion struct {
	Kind            string `json:"kind"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Implementation  string `json:"implementation"`
	Priority        string `json:"priority"`
	EstimatedImpact string `json:"estimatedImpact"`
}

// seoSuggestions asks the model for typed suggestions and falls back to
// the static trio when the model is unavailable.
func (w *Worker) seoSuggestions(ctx domain.Context, content string, spec domain.CallSpec) ([]domain.SEOSuggestion, domain.Usage) {
	suggestions, usage, err := w.llmSEO(ctx, content, spec)
	if err != nil {
		slog.Warn("llm seo pass failed, using static suggestions", slog.Any("error", err))
		return heuristicSEO(content), usage
	}
	return suggestions, usage
}

func (w *Worker) llmSEO(ctx domain.Context, content string, spec domain.CallSpec) ([]domain.SEOSuggestion, domain.Usage, error) {
	out, err := w.llm.Chat(ctx, domain.ChatRequest{
		Model: spec.Model,
		Messages: []domain.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(seoPrompt, maxSEOSuggestions)},
			{Role: "user", Content: content},
		},
		MaxTokens:   spec.MaxTokens,
		Temperature: 0.3,
		Tags:        domain.CallTags{Worker: domain.WorkerFactChecker},
	})
	if err != nil {
		return nil, out.Usage, fmt.Errorf("op=factcheck.seo: %w", err)
	}
	if ai.IsRefusal(out.Content) {
		return nil, out.Usage, fmt.Errorf("op=factcheck.seo: %w: model refused", domain.ErrUpstream)
	}

	cleaned := w.cleaner.CleanJSONResponse(out.Content)
	var parsed []llmSEOSuggestion
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, out.Usage, fmt.Errorf("op=factcheck.seo: parse: %w", err)
	}

	suggestions := make([]domain.SEOSuggestion, 0, len(parsed))
	for _, p := range parsed {
		kind, ok := seoKind(p.Kind)
		if !ok || strings.TrimSpace(p.Title) == "" {
			continue
		}
		suggestions = append(suggestions, domain.SEOSuggestion{
			Kind:            kind,
			Title:           strings.TrimSpace(p.Title),
			Description:     strings.TrimSpace(p.Description),
			Implementation:  strings.TrimSpace(p.Implementation),
			Priority:        seoPriority(p.Priority),
			EstimatedImpact: strings.TrimSpace(p.EstimatedImpact),
		})
		if len(suggestions) == maxSEOSuggestions {
			break
		}
	}
	return suggestions, out.Usage, nil
}

func seoKind(s string) (domain.SEOKind, bool) {
	switch k := domain.SEOKind(strings.ToLower(strings.TrimSpace(s))); k {
	case domain.SEOInternalLink, domain.SEOExternalLink, domain.SEOKeyword, domain.SEOMeta, domain.SEOStructure:
		return k, true
	default:
		return "", false
	}
}

func seoPriority(s string) string {
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case "high", "medium", "low":
		return p
	default:
		return "medium"
	}
}

func heuristicSEO(content string) []domain.SEOSuggestion {
	var suggestions []domain.SEOSuggestion
	if len(content) > 1000 {
		suggestions = append(suggestions, domain.SEOSuggestion{
			Kind:            domain.SEOStructure,
			Title:           "Add subheadings",
			Description:     "Long unbroken text ranks and reads worse than sectioned text.",
			Implementation:  "Split the piece into sections of a few paragraphs, each under a descriptive H2.",
			Priority:        "high",
			EstimatedImpact: "Better readability and featured-snippet eligibility.",
		})
	}
	suggestions = append(suggestions,
		domain.SEOSuggestion{
			Kind:            domain.SEOExternalLink,
			Title:           "Link to authoritative sources",
			Description:     "Outbound links to credible references support the factual claims.",
			Implementation:  "Link each verified claim to the source that confirms it.",
			Priority:        "medium",
			EstimatedImpact: "Higher trust signals for readers and crawlers.",
		},
		domain.SEOSuggestion{
			Kind:            domain.SEOInternalLink,
			Title:           "Create internal links",
			Description:     "Related pieces on the same site should reference each other.",
			Implementation:  "Add two or three links to earlier posts covering adjacent topics.",
			Priority:        "medium",
			EstimatedImpact: "Longer sessions and better crawl coverage.",
		},
	)
	return suggestions
}
