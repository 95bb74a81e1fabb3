package factcheck

import (
	"fmt"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// detectConflicts flags claims whose verdict clashes with credible
// evidence: status disputed, false or misleading, backed by at least one
// source with credibility above 0.6 and relevance above 0.5.
func detectConflicts(claims []domain.Claim, results []domain.FactCheckResult) []domain.ConflictingInformation {
	texts := make(map[string]string, len(claims))
	for _, c := range claims {
		texts[c.ID] = c.Text
	}

	var conflicts []domain.ConflictingInformation
	for _, r := range results {
		switch r.Status {
		case domain.FactDisputed, domain.FactFalse, domain.FactMisleading:
		default:
			continue
		}

		var credible []domain.SourceReference
		for _, s := range r.Sources {
			if s.Credibility > 0.6 && s.Relevance > 0.5 {
				credible = append(credible, s)
			}
		}
		if len(credible) == 0 {
			continue
		}

		conflicts = append(conflicts, domain.ConflictingInformation{
			ClaimID:        r.ClaimID,
			Kind:           conflictKind(r.Status),
			Sources:        credible,
			Explanation:    conflictExplanation(r, texts[r.ClaimID]),
			Recommendation: recommendation(r),
		})
	}
	return conflicts
}

func conflictKind(status domain.FactStatus) domain.ConflictKind {
	switch status {
	case domain.FactFalse:
		return domain.ConflictContradictory
	case domain.FactMisleading:
		return domain.ConflictContextDependent
	default:
		return domain.ConflictDisputed
	}
}

func conflictExplanation(r domain.FactCheckResult, claimText string) string {
	if r.Explanation != "" {
		return r.Explanation
	}
	return fmt.Sprintf("Credible sources do not support the claim %q.", domain.Snippet(claimText, 120))
}

func recommendation(r domain.FactCheckResult) string {
	if len(r.Alternatives) > 0 {
		return "Replace the claim with: " + r.Alternatives[0]
	}
	switch r.Status {
	case domain.FactFalse:
		return "Replace the claim with the figure reported by the cited sources."
	case domain.FactMisleading:
		return "Add the missing context the cited sources provide."
	default:
		return "Present both positions and cite the disagreeing sources."
	}
}
