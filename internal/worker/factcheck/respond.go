package factcheck

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

const fallbackConfidence = 0.3

// assemble renders the report and attaches the structured outputs for
// downstream phases.
func (w *Worker) assemble(claims []domain.Claim, results []domain.FactCheckResult, conflicts []domain.ConflictingInformation, seo []domain.SEOSuggestion, usage domain.Usage) *domain.Response {
	texts := make(map[string]string, len(claims))
	for _, c := range claims {
		texts[c.ID] = c.Text
	}

	counts := map[domain.FactStatus]int{}
	var confSum float64
	for _, r := range results {
		counts[r.Status]++
		confSum += r.Confidence
	}

	var sb strings.Builder
	sb.WriteString("Fact-check report\n")
	fmt.Fprintf(&sb, "\nClaims reviewed: %d\n", len(claims))
	for _, st := range []domain.FactStatus{domain.FactVerified, domain.FactDisputed, domain.FactFalse, domain.FactMisleading, domain.FactUnverified} {
		if n := counts[st]; n > 0 {
			fmt.Fprintf(&sb, "- %s: %d\n", st, n)
		}
	}

	if len(results) > 0 {
		sb.WriteString("\nFindings:\n")
		for _, r := range results {
			fmt.Fprintf(&sb, "- [%s] %s (confidence %.2f)", r.Status, domain.Snippet(texts[r.ClaimID], 120), r.Confidence)
			if r.Explanation != "" {
				sb.WriteString(": " + r.Explanation)
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("\nNo verifiable factual claims were found in the content.\n")
	}

	if len(conflicts) > 0 {
		sb.WriteString("\nConflicts:\n")
		for _, c := range conflicts {
			fmt.Fprintf(&sb, "- [%s] %s %s\n", c.Kind, domain.Snippet(texts[c.ClaimID], 120), c.Recommendation)
		}
	}

	if len(seo) > 0 {
		sb.WriteString("\nSEO suggestions:\n")
		for _, s := range seo {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", s.Kind, s.Title, s.Description)
		}
	}

	fmt.Fprintf(&sb, "\nTotals: %d claims, %d conflicts, %d SEO suggestions.\n",
		len(claims), len(conflicts), len(seo))

	confidence := 0.9
	if len(results) > 0 {
		confidence = clamp01(confSum / float64(len(results)))
	}

	return &domain.Response{
		Content:     sb.String(),
		Suggestions: reportSuggestions(counts, len(conflicts), len(seo)),
		Metadata: domain.ResponseMetadata{
			TokenUsage: domain.TokenUsage{
				Prompt:     usage.PromptTokens,
				Completion: usage.CompletionTokens,
				Total:      usage.TotalTokens,
			},
			Confidence: confidence,
			NextSteps:  reportNextSteps(counts, len(conflicts)),
		},
		PhaseOutputs: &domain.PhaseOutputs{
			Claims:           claims,
			FactCheckResults: results,
			Conflicts:        conflicts,
			SEOSuggestions:   seo,
		},
	}
}

func reportSuggestions(counts map[domain.FactStatus]int, conflicts, seo int) []domain.Suggestion {
	var suggestions []domain.Suggestion
	if conflicts > 0 {
		suggestions = append(suggestions, domain.Suggestion{
			Kind:        domain.SuggestionAction,
			Title:       "Correct the contradicted claims",
			Description: "Credible sources conflict with parts of the draft; fix them before publishing.",
			Priority:    "high",
		})
	}
	if counts[domain.FactUnverified] > 0 {
		suggestions = append(suggestions, domain.Suggestion{
			Kind:        domain.SuggestionResource,
			Title:       "Add citations for unverified claims",
			Description: "Some claims lack credible supporting sources; cite one or soften the wording.",
			Priority:    "medium",
		})
	}
	if seo > 0 {
		suggestions = append(suggestions, domain.Suggestion{
			Kind:        domain.SuggestionImprovement,
			Title:       "Apply the top SEO suggestions",
			Description: "Start with the highest-priority items in the SEO section.",
			Priority:    "low",
		})
	}
	return suggestions
}

func reportNextSteps(counts map[domain.FactStatus]int, conflicts int) []string {
	if conflicts > 0 {
		return []string{
			"Resolve the flagged conflicts",
			"Re-run the fact check after editing",
		}
	}
	if counts[domain.FactUnverified] > 0 {
		return []string{
			"Source the unverified claims",
			"Ask the refiner to weave the citations in",
		}
	}
	return []string{
		"Fold the SEO suggestions into the draft",
		"Move on to final review",
	}
}

// fallback is the answer of last resort: generic guidance, zero token
// usage, one suggestion of each kind.
func (w *Worker) fallback() *domain.Response {
	return &domain.Response{
		Content: "The fact-check pipeline could not analyze this content. " +
			"Until it recovers: verify every number, date and named statistic against a primary source; " +
			"prefer .gov, .edu and established press citations; " +
			"link each factual claim to the source that supports it; " +
			"and add descriptive subheadings so readers and search engines can scan the piece.",
		Suggestions: []domain.Suggestion{
			{
				Kind:        domain.SuggestionAction,
				Title:       "Verify claims manually",
				Description: "Check each factual statement against a primary source before publishing.",
				Priority:    "high",
			},
			{
				Kind:        domain.SuggestionResource,
				Title:       "Use authoritative references",
				Description: "Government, academic and major-press sources carry the most credibility.",
				Priority:    "medium",
			},
			{
				Kind:        domain.SuggestionImprovement,
				Title:       "Cite sources inline",
				Description: "Link claims to their sources where they appear in the text.",
				Priority:    "medium",
			},
		},
		Metadata: domain.ResponseMetadata{
			Confidence: fallbackConfidence,
			NextSteps:  []string{"Retry the fact check once the service recovers"},
		},
	}
}
