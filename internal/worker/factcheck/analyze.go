package factcheck

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/ai"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

const verdictPrompt = `You judge whether a claim is supported by the sources below.
Answer with a single JSON object only, no prose:
{"status": "verified|disputed|unverified|false|misleading", "confidence": <0..1>, "explanation": "<one or two sentences citing the sources>", "alternatives": ["<corrected statement>", ...]}
Use "false" when a credible source directly contradicts the claim, "disputed" when credible sources disagree, "misleading" when the claim is technically true but lacks essential context.`

type llmVerdict struct {
	Status       string   `json:"status"`
	Confidence   float64  `json:"confidence"`
	Explanation  string   `json:"explanation"`
	Alternatives []string `json:"alternatives"`
}

// analyze turns a claim and its sources into a verdict. LLM analysis is
// preferred; on any model failure the credibility heuristic decides.
func (w *Worker) analyze(ctx domain.Context, claim domain.Claim, sources []domain.SourceReference, spec domain.CallSpec) (domain.FactCheckResult, domain.Usage) {
	if len(sources) == 0 {
		return domain.FactCheckResult{
			ClaimID:     claim.ID,
			Status:      domain.FactUnverified,
			Confidence:  0.2,
			Explanation: "No sources were found for this claim.",
			LastChecked: time.Now().UTC(),
		}, domain.Usage{}
	}

	verdict, usage, err := w.llmVerdict(ctx, claim, sources, spec)
	if err != nil {
		slog.Warn("llm verdict failed, using credibility heuristic",
			slog.String("claim_id", claim.ID), slog.Any("error", err))
		return heuristicVerdict(claim, sources), usage
	}
	return verdict, usage
}

func (w *Worker) llmVerdict(ctx domain.Context, claim domain.Claim, sources []domain.SourceReference, spec domain.CallSpec) (domain.FactCheckResult, domain.Usage, error) {
	var sb strings.Builder
	sb.WriteString("Claim: ")
	sb.WriteString(claim.Text)
	sb.WriteString("\n\nSources:\n")
	for i, s := range sources {
		fmt.Fprintf(&sb, "%d. %s (%s, credibility %.2f)\n   %s\n",
			i+1, s.Title, s.Domain, s.Credibility, domain.Snippet(s.Snippet, 300))
	}

	out, err := w.llm.Chat(ctx, domain.ChatRequest{
		Model: spec.Model,
		Messages: []domain.ChatMessage{
			{Role: "system", Content: verdictPrompt},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens:   spec.MaxTokens,
		Temperature: 0.1,
		Tags:        domain.CallTags{Worker: domain.WorkerFactChecker},
	})
	if err != nil {
		return domain.FactCheckResult{}, out.Usage, fmt.Errorf("op=factcheck.verdict: %w", err)
	}
	if ai.IsRefusal(out.Content) {
		return domain.FactCheckResult{}, out.Usage, fmt.Errorf("op=factcheck.verdict: %w: model refused analysis", domain.ErrUpstream)
	}

	cleaned := w.cleaner.CleanJSONResponse(out.Content)
	var parsed llmVerdict
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return domain.FactCheckResult{}, out.Usage, fmt.Errorf("op=factcheck.verdict: parse: %w", err)
	}
	status, ok := factStatus(parsed.Status)
	if !ok {
		return domain.FactCheckResult{}, out.Usage, fmt.Errorf("op=factcheck.verdict: unknown status %q", parsed.Status)
	}

	return domain.FactCheckResult{
		ClaimID:      claim.ID,
		Status:       status,
		Confidence:   clamp01(parsed.Confidence),
		Sources:      sources,
		Explanation:  strings.TrimSpace(parsed.Explanation),
		Alternatives: parsed.Alternatives,
		LastChecked:  time.Now().UTC(),
	}, out.Usage, nil
}

func factStatus(s string) (domain.FactStatus, bool) {
	switch st := domain.FactStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case domain.FactVerified, domain.FactDisputed, domain.FactUnverified, domain.FactFalse, domain.FactMisleading:
		return st, true
	default:
		return "", false
	}
}

// heuristicVerdict verifies a claim when at least two sources score
// credibility above 0.7 and the mean relevance clears 0.6; anything less
// stays unverified. It never declares a claim false: that verdict needs
// the model to actually read the sources.
func heuristicVerdict(claim domain.Claim, sources []domain.SourceReference) domain.FactCheckResult {
	var credSum, relSum float64
	strong := 0
	for _, s := range sources {
		credSum += s.Credibility
		relSum += s.Relevance
		if s.Credibility > 0.7 {
			strong++
		}
	}
	meanCred := credSum / float64(len(sources))
	meanRel := relSum / float64(len(sources))

	result := domain.FactCheckResult{
		ClaimID:     claim.ID,
		Status:      domain.FactUnverified,
		Confidence:  0.3,
		Sources:     sources,
		LastChecked: time.Now().UTC(),
	}
	if strong >= 2 && meanRel > 0.6 {
		result.Status = domain.FactVerified
		result.Confidence = clamp01(meanCred * meanRel)
		if result.Confidence > 0.8 {
			result.Confidence = 0.8
		}
		result.Explanation = fmt.Sprintf("Supported by %d high-credibility sources.", strong)
		return result
	}
	result.Explanation = "The gathered sources are not credible or relevant enough to confirm this claim."
	return result
}
