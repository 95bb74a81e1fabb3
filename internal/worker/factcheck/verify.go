package factcheck

import (
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/breaker"
	"github.com/fairyhunter13/ai-writing-orchestrator/pkg/textx"
)

// defaultCredibility scores domains the pipeline has no table entry for.
const defaultCredibility = 0.5

// defaultTrustedDomains is the built-in credibility table. Subdomains
// inherit the score of the longest matching entry. Config overrides merge
// on top of it.
var defaultTrustedDomains = map[string]float64{
	"nature.com":     0.95,
	"science.org":    0.95,
	"who.int":        0.95,
	"reuters.com":    0.9,
	"apnews.com":     0.9,
	"bbc.com":        0.85,
	"economist.com":  0.85,
	"nytimes.com":    0.8,
	"wikipedia.org":  0.8,
	"britannica.com": 0.8,
}

// verifier gathers and scores sources for a claim. Each search provider
// sits behind its own circuit breaker so a dead provider stops costing a
// timeout per claim.
type verifier struct {
	primary  domain.SearchProvider
	topUp    domain.SearchProvider
	breakers *breaker.Registry
	pace     *rate.Limiter
	min      int
	max      int

	mu    sync.Mutex
	cred  map[string]float64
	trust map[string]float64
}

func newVerifier(primary, topUp domain.SearchProvider, breakers *breaker.Registry, cfg Config) *verifier {
	trust := make(map[string]float64, len(defaultTrustedDomains)+len(cfg.TrustedDomains))
	for d, c := range defaultTrustedDomains {
		trust[d] = c
	}
	for d, c := range cfg.TrustedDomains {
		trust[strings.ToLower(d)] = c
	}
	return &verifier{
		primary:  primary,
		topUp:    topUp,
		breakers: breakers,
		pace:     rate.NewLimiter(rate.Every(cfg.ClaimSearchDelay), 1),
		min:      cfg.MinSearchResults,
		max:      cfg.MaxSearchResults,
		cred:     make(map[string]float64),
		trust:    trust,
	}
}

// sourcesFor searches for evidence about a claim and scores each hit.
func (v *verifier) sourcesFor(ctx domain.Context, claim domain.Claim) []domain.SourceReference {
	results := v.search(ctx, searchQuery(claim.Text))
	sources := make([]domain.SourceReference, 0, len(results))
	for _, r := range results {
		dom := hostOf(r)
		sources = append(sources, domain.SourceReference{
			Title:       r.Title,
			URL:         r.URL,
			Domain:      dom,
			Credibility: v.credibility(dom),
			Relevance:   relevance(claim.Text, r.Snippet),
			Snippet:     r.Snippet,
			PublishDate: r.PublishDate,
		})
	}
	return sources
}

// search queries the primary provider and tops up from the commercial one
// when the primary comes back thin.
func (v *verifier) search(ctx domain.Context, query string) []domain.SearchResult {
	results := v.query(ctx, v.primary, query, v.max)
	if len(results) < v.min && v.topUp != nil {
		results = append(results, v.query(ctx, v.topUp, query, v.max-len(results))...)
	}
	if len(results) > v.max {
		results = results[:v.max]
	}
	return results
}

// query runs one provider behind its breaker. The provider itself records
// ok/error search metrics; only breaker refusals are counted here.
func (v *verifier) query(ctx domain.Context, p domain.SearchProvider, query string, limit int) []domain.SearchResult {
	if p == nil || limit <= 0 {
		return nil
	}
	br := v.breakers.Get("search:" + p.Name())
	if err := br.Allow(); err != nil {
		observability.RecordSearch(p.Name(), "circuit_open")
		return nil
	}
	results, err := p.Search(ctx, query, limit)
	if err != nil {
		br.RecordFailure()
		slog.Warn("search provider failed",
			slog.String("provider", p.Name()), slog.Any("error", err))
		return nil
	}
	br.RecordSuccess()
	return results
}

// credibility scores a domain, memoizing the verdict. Exact table entries
// (and their subdomains) win, then TLD suffix tiers, then the default.
func (v *verifier) credibility(dom string) float64 {
	dom = strings.ToLower(strings.TrimPrefix(dom, "www."))
	if dom == "" {
		return defaultCredibility
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.cred[dom]; ok {
		return c
	}
	c := v.scoreDomain(dom)
	v.cred[dom] = c
	return c
}

func (v *verifier) scoreDomain(dom string) float64 {
	if c, ok := v.trust[dom]; ok {
		return c
	}
	best, bestLen := 0.0, 0
	for d, c := range v.trust {
		if strings.HasSuffix(dom, "."+d) && len(d) > bestLen {
			best, bestLen = c, len(d)
		}
	}
	if bestLen > 0 {
		return best
	}
	switch {
	case strings.HasSuffix(dom, ".gov"):
		return 0.9
	case strings.HasSuffix(dom, ".edu"):
		return 0.85
	case strings.HasSuffix(dom, ".org"):
		return 0.7
	default:
		return defaultCredibility
	}
}

// relevance is the fraction of distinct claim words (length > 3) that
// appear in the snippet.
func relevance(claimText, snippet string) float64 {
	lowerSnippet := strings.ToLower(snippet)
	words := map[string]struct{}{}
	for _, w := range textx.Words(claimText) {
		if len(w) > 3 {
			words[w] = struct{}{}
		}
	}
	if len(words) == 0 {
		return 0
	}
	matched := 0
	for w := range words {
		if strings.Contains(lowerSnippet, w) {
			matched++
		}
	}
	return clamp01(float64(matched) / float64(len(words)))
}

// searchQuery keeps the first five high-signal tokens of the claim.
func searchQuery(claimText string) string {
	return strings.Join(textx.SignificantWords(claimText, 5), " ")
}

// hostOf extracts the bare host of a search result. The URL wins; the
// provider-supplied source is a fallback and only when it looks like a
// host (DuckDuckGo abstracts carry display names such as "Wikipedia").
func hostOf(r domain.SearchResult) string {
	u := r.URL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.IndexByte(u, ':'); i >= 0 {
		u = u[:i]
	}
	if u != "" {
		return strings.ToLower(strings.TrimPrefix(u, "www."))
	}
	if strings.Contains(r.Source, ".") {
		return strings.ToLower(strings.TrimPrefix(r.Source, "www."))
	}
	return ""
}
