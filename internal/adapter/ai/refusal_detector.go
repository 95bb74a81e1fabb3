package ai

import (
	"strings"
)

// refusalIndicators are lowercase substrings that mark a model reply as a
// refusal rather than a usable answer. Matching is deliberately broad: a
// false positive only flips a structured path to its heuristic fallback.
var refusalIndicators = []string{
	"i'm sorry", "i cannot", "i can't", "i'm unable", "i apologize",
	"unfortunately", "i'm afraid", "i don't have access",
	"as an ai", "internal system", "security concerns",
	"policy", "guidelines", "ethical", "harmful",
}

// IsRefusal reports whether the model declined to answer. Structured
// output paths (claim extraction, verdict analysis, SEO suggestions) gate
// on this before attempting to decode JSON.
func IsRefusal(response string) bool {
	lower := strings.ToLower(response)
	for _, indicator := range refusalIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
