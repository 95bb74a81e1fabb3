package factcheck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/breaker"
)

func TestHeuristicClaims_Classification(t *testing.T) {
	cases := []struct {
		sentence string
		kind     domain.ClaimKind
		claim    bool
	}{
		{"Revenue grew 12% last quarter.", domain.ClaimStatistic, true},
		{"The treaty was signed in 1648.", domain.ClaimHistorical, true},
		{"The bridge is 2300 meters long.", domain.ClaimStatistic, true},
		{"A recent study links sleep to memory.", domain.ClaimScientific, true},
		{"Paris is the capital of France.", domain.ClaimGeneral, true},
		{"According to the mayor, traffic improved.", domain.ClaimGeneral, true},
		{"What a lovely morning!", "", false},
	}
	for _, tc := range cases {
		claims := heuristicClaims(tc.sentence, 8)
		if !tc.claim {
			assert.Empty(t, claims, tc.sentence)
			continue
		}
		require.Len(t, claims, 1, tc.sentence)
		assert.Equal(t, tc.kind, claims[0].Kind, tc.sentence)
		assert.NotEmpty(t, claims[0].ID)
	}
}

func TestHeuristicClaims_PositionsAndCap(t *testing.T) {
	content := "Model A costs 10 dollars. Model B costs 20 dollars. Model C costs 30 dollars."
	claims := heuristicClaims(content, 2)
	require.Len(t, claims, 2)
	for _, c := range claims {
		assert.Equal(t, c.Text, content[c.Position.Start:c.Position.End])
	}
	assert.Equal(t, "Model A costs 10 dollars.", claims[0].Text)
	assert.Equal(t, "Model B costs 20 dollars.", claims[1].Text)
}

func TestSplitSentences(t *testing.T) {
	content := "One fact. Another fact! A question? trailing words"
	spans := splitSentences(content)
	require.Len(t, spans, 4)
	for _, s := range spans {
		assert.Equal(t, s.text, content[s.start:s.end])
	}
	assert.Equal(t, "One fact.", spans[0].text)
	assert.Equal(t, "trailing words", spans[3].text)
}

func TestSearchQuery(t *testing.T) {
	assert.Equal(t, "population tokyo 50 million people",
		searchQuery("The population of Tokyo is 50 million people."))
	assert.Equal(t, "recent study links better sleep",
		searchQuery("A recent study links better sleep to stronger memory consolidation"))
	assert.Equal(t, "", searchQuery("it is as it was"))
}

func TestCredibility(t *testing.T) {
	v := newVerifier(nil, nil, breaker.NewRegistry(3, time.Minute, time.Minute), Config{}.withDefaults())

	cases := map[string]float64{
		"nature.com":        0.95,
		"www.reuters.com":   0.9,
		"en.wikipedia.org":  0.8,
		"cdc.gov":           0.9,
		"mit.edu":           0.85,
		"example.org":       0.7,
		"blog.example.com":  0.5,
		"data.service.gov":  0.9,
		"":                  0.5,
	}
	for dom, want := range cases {
		assert.InDelta(t, want, v.credibility(dom), 1e-9, dom)
	}
}

func TestCredibility_Memoized(t *testing.T) {
	v := newVerifier(nil, nil, breaker.NewRegistry(3, time.Minute, time.Minute), Config{}.withDefaults())

	assert.InDelta(t, 0.95, v.credibility("nature.com"), 1e-9)
	v.trust["nature.com"] = 0.1
	assert.InDelta(t, 0.95, v.credibility("nature.com"), 1e-9)
}

func TestCredibility_ConfigOverrides(t *testing.T) {
	cfg := Config{TrustedDomains: map[string]float64{
		"example.com":   0.99,
		"wikipedia.org": 0.6,
	}}.withDefaults()
	v := newVerifier(nil, nil, breaker.NewRegistry(3, time.Minute, time.Minute), cfg)

	assert.InDelta(t, 0.99, v.credibility("example.com"), 1e-9)
	assert.InDelta(t, 0.99, v.credibility("blog.example.com"), 1e-9)
	assert.InDelta(t, 0.6, v.credibility("en.wikipedia.org"), 1e-9)
	assert.InDelta(t, 0.95, v.credibility("nature.com"), 1e-9)
}

func TestRelevance(t *testing.T) {
	claim := "The population of Tokyo is 50 million people."

	assert.InDelta(t, 1.0, relevance(claim,
		"The city proper has a population of about 14 million people, says Tokyo's government."), 1e-9)
	assert.InDelta(t, 0.5, relevance(claim, "Tokyo has a large population."), 1e-9)
	assert.InDelta(t, 0.0, relevance(claim, "Completely unrelated snippet."), 1e-9)
	assert.InDelta(t, 0.0, relevance("it is so", "anything"), 1e-9)
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "example.com", hostOf(domain.SearchResult{URL: "https://www.example.com:8080/path?q=1"}))
	assert.Equal(t, "en.wikipedia.org", hostOf(domain.SearchResult{URL: "https://en.wikipedia.org/wiki/Tokyo"}))
	assert.Equal(t, "reuters.com", hostOf(domain.SearchResult{Source: "www.reuters.com"}))
	assert.Equal(t, "", hostOf(domain.SearchResult{Source: "Wikipedia"}))
}

func TestHeuristicVerdict(t *testing.T) {
	claim := domain.Claim{ID: "c-1", Text: "claim"}

	verified := heuristicVerdict(claim, []domain.SourceReference{
		{Credibility: 0.9, Relevance: 0.8},
		{Credibility: 0.8, Relevance: 0.7},
	})
	assert.Equal(t, domain.FactVerified, verified.Status)
	assert.InDelta(t, 0.6375, verified.Confidence, 1e-9)

	capped := heuristicVerdict(claim, []domain.SourceReference{
		{Credibility: 1.0, Relevance: 1.0},
		{Credibility: 1.0, Relevance: 1.0},
	})
	assert.Equal(t, domain.FactVerified, capped.Status)
	assert.InDelta(t, 0.8, capped.Confidence, 1e-9)

	oneStrong := heuristicVerdict(claim, []domain.SourceReference{
		{Credibility: 0.9, Relevance: 0.9},
		{Credibility: 0.5, Relevance: 0.9},
	})
	assert.Equal(t, domain.FactUnverified, oneStrong.Status)
	assert.InDelta(t, 0.3, oneStrong.Confidence, 1e-9)

	lowRelevance := heuristicVerdict(claim, []domain.SourceReference{
		{Credibility: 0.9, Relevance: 0.5},
		{Credibility: 0.8, Relevance: 0.5},
	})
	assert.Equal(t, domain.FactUnverified, lowRelevance.Status)
}

func TestDetectConflicts(t *testing.T) {
	claims := []domain.Claim{{ID: "c-1", Text: "The moon is made of cheese."}}

	credible := []domain.SourceReference{{Domain: "nasa.gov", Credibility: 0.9, Relevance: 0.8}}
	weak := []domain.SourceReference{{Domain: "blog.example.com", Credibility: 0.5, Relevance: 0.9}}

	cases := []struct {
		name    string
		result  domain.FactCheckResult
		want    int
		kind    domain.ConflictKind
	}{
		{"false with credible source", domain.FactCheckResult{ClaimID: "c-1", Status: domain.FactFalse, Sources: credible}, 1, domain.ConflictContradictory},
		{"disputed with credible source", domain.FactCheckResult{ClaimID: "c-1", Status: domain.FactDisputed, Sources: credible}, 1, domain.ConflictDisputed},
		{"misleading with credible source", domain.FactCheckResult{ClaimID: "c-1", Status: domain.FactMisleading, Sources: credible}, 1, domain.ConflictContextDependent},
		{"false without credible source", domain.FactCheckResult{ClaimID: "c-1", Status: domain.FactFalse, Sources: weak}, 0, ""},
		{"verified never conflicts", domain.FactCheckResult{ClaimID: "c-1", Status: domain.FactVerified, Sources: credible}, 0, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conflicts := detectConflicts(claims, []domain.FactCheckResult{tc.result})
			require.Len(t, conflicts, tc.want)
			if tc.want > 0 {
				assert.Equal(t, tc.kind, conflicts[0].Kind)
				assert.Equal(t, "c-1", conflicts[0].ClaimID)
				assert.NotEmpty(t, conflicts[0].Recommendation)
			}
		})
	}
}

func TestDetectConflicts_PrefersAlternative(t *testing.T) {
	claims := []domain.Claim{{ID: "c-1", Text: "Tokyo has 50 million residents."}}
	results := []domain.FactCheckResult{{
		ClaimID:      "c-1",
		Status:       domain.FactFalse,
		Sources:      []domain.SourceReference{{Credibility: 0.8, Relevance: 0.9}},
		Alternatives: []string{"Tokyo has about 14 million residents."},
	}}

	conflicts := detectConflicts(claims, results)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "Replace the claim with: Tokyo has about 14 million residents.", conflicts[0].Recommendation)
}

func TestExtractClaims_RefusalFallsBack(t *testing.T) {
	llm := &scriptedLLM{steps: []chatStep{{content: "I'm sorry, I can't list claims for this text."}}}
	w := newTestWorker(llm, newFactCacheStub(), &searchStub{name: "duckduckgo"}, nil)

	claims, _ := w.extractClaims(context.Background(), "Revenue grew 12% last quarter.", testSpec())
	require.Len(t, claims, 1)
	assert.Equal(t, domain.ClaimStatistic, claims[0].Kind)
}

func TestLLMClaims_PositionRecovery(t *testing.T) {
	content := "Cats sleep 16 hours a day."
	llm := &scriptedLLM{steps: []chatStep{{
		content: `[{"text":"Cats sleep 16 hours a day.","kind":"statistic","confidence":0.9,"start":999,"end":1200}]`,
	}}}
	w := newTestWorker(llm, newFactCacheStub(), &searchStub{name: "duckduckgo"}, nil)

	claims, _, err := w.llmClaims(context.Background(), content, testSpec())
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, 0, claims[0].Position.Start)
	assert.Equal(t, len(content), claims[0].Position.End)
}

func TestClaimKindNormalization(t *testing.T) {
	assert.Equal(t, domain.ClaimStatistic, claimKind(" Statistic "))
	assert.Equal(t, domain.ClaimGeneral, claimKind("bogus"))
	assert.Equal(t, domain.ClaimGeneral, claimKind(""))
}

func TestSEOKindAndPriority(t *testing.T) {
	kind, ok := seoKind("External_Link")
	assert.True(t, ok)
	assert.Equal(t, domain.SEOExternalLink, kind)

	_, ok = seoKind("banner")
	assert.False(t, ok)

	assert.Equal(t, "high", seoPriority("HIGH"))
	assert.Equal(t, "medium", seoPriority(""))
}

func TestHeuristicSEO(t *testing.T) {
	short := heuristicSEO("short piece")
	require.Len(t, short, 2)
	assert.Equal(t, domain.SEOExternalLink, short[0].Kind)
	assert.Equal(t, domain.SEOInternalLink, short[1].Kind)

	long := heuristicSEO(string(make([]byte, 1001)))
	require.Len(t, long, 3)
	assert.Equal(t, domain.SEOStructure, long[0].Kind)
}
