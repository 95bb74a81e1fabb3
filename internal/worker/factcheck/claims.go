package factcheck

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/ai"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

const claimExtractionPrompt = `Extract the verifiable factual claims from the text below.
Answer with a JSON array only, no prose. Each element:
{"text": "<exact claim sentence>", "kind": "statistic|historical|scientific|general|opinion", "confidence": <0..1>, "start": <byte offset>, "end": <byte offset>}
Return at most %d claims. Skip pure opinions unless they assert a checkable fact.`

type llmClaim struct {
	Text       string  `json:"text"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
}

// extractClaims runs the LLM extractor and falls back to the heuristic
// scanner when the model errors, refuses, or returns unparseable JSON.
func (w *Worker) extractClaims(ctx domain.Context, content string, spec domain.CallSpec) ([]domain.Claim, domain.Usage) {
	claims, usage, err := w.llmClaims(ctx, content, spec)
	if err != nil {
		slog.Warn("llm claim extraction failed, using heuristic scanner", slog.Any("error", err))
		claims = heuristicClaims(content, w.cfg.MaxClaimsHeuristic)
		observability.RecordClaimsExtracted("heuristic", len(claims))
		return claims, usage
	}
	observability.RecordClaimsExtracted("llm", len(claims))
	return claims, usage
}

func (w *Worker) llmClaims(ctx domain.Context, content string, spec domain.CallSpec) ([]domain.Claim, domain.Usage, error) {
	out, err := w.llm.Chat(ctx, domain.ChatRequest{
		Model: spec.Model,
		Messages: []domain.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(claimExtractionPrompt, w.cfg.MaxClaimsLLM)},
			{Role: "user", Content: content},
		},
		MaxTokens:   spec.MaxTokens,
		Temperature: 0.1,
		Tags:        domain.CallTags{Worker: domain.WorkerFactChecker},
	})
	if err != nil {
		return nil, out.Usage, fmt.Errorf("op=factcheck.claims: %w", err)
	}
	if ai.IsRefusal(out.Content) {
		return nil, out.Usage, fmt.Errorf("op=factcheck.claims: %w: model refused extraction", domain.ErrUpstream)
	}

	cleaned := w.cleaner.CleanJSONResponse(out.Content)
	var parsed []llmClaim
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, out.Usage, fmt.Errorf("op=factcheck.claims: parse extraction: %w", err)
	}

	claims := make([]domain.Claim, 0, len(parsed))
	for _, p := range parsed {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		start, end := p.Start, p.End
		if start < 0 || end <= start || end > len(content) {
			start = strings.Index(content, text)
			end = start + len(text)
			if start < 0 {
				start, end = 0, 0
			}
		}
		claims = append(claims, domain.Claim{
			ID:                   uuid.NewString(),
			Text:                 text,
			Kind:                 claimKind(p.Kind),
			ExtractionConfidence: clamp01(p.Confidence),
			Context:              contextWindow(content, start, end),
			Position:             domain.ClaimPosition{Start: start, End: end},
		})
		if len(claims) == w.cfg.MaxClaimsLLM {
			break
		}
	}
	return claims, out.Usage, nil
}

func claimKind(s string) domain.ClaimKind {
	switch k := domain.ClaimKind(strings.ToLower(strings.TrimSpace(s))); k {
	case domain.ClaimStatistic, domain.ClaimHistorical, domain.ClaimScientific, domain.ClaimGeneral, domain.ClaimOpinion:
		return k
	default:
		return domain.ClaimGeneral
	}
}

var (
	numericToken = regexp.MustCompile(`\d`)
	yearToken    = regexp.MustCompile(`\b(1[5-9]\d{2}|20\d{2})\b`)
)

var scienceWords = []string{"study", "research", "survey", "report", "data"}

var linkingWords = []string{"is", "are", "was", "were", "according to"}

// heuristicClaims scans sentence by sentence for factual markers. It is the
// extraction path of last resort, so it favors recall over precision: any
// sentence with a number, a percent sign, a year, a research word, or a
// linking verb becomes a claim.
func heuristicClaims(content string, limit int) []domain.Claim {
	var claims []domain.Claim
	for _, s := range splitSentences(content) {
		kind, conf, ok := classifySentence(s.text)
		if !ok {
			continue
		}
		claims = append(claims, domain.Claim{
			ID:                   uuid.NewString(),
			Text:                 s.text,
			Kind:                 kind,
			ExtractionConfidence: conf,
			Context:              contextWindow(content, s.start, s.end),
			Position:             domain.ClaimPosition{Start: s.start, End: s.end},
		})
		if len(claims) == limit {
			break
		}
	}
	return claims
}

// classifySentence reports the claim kind of the first marker found.
// Years outrank bare numbers: every year is also a digit run, so checking
// numbers first would leave the historical kind unreachable.
func classifySentence(sentence string) (domain.ClaimKind, float64, bool) {
	lower := strings.ToLower(sentence)
	switch {
	case strings.Contains(sentence, "%"):
		return domain.ClaimStatistic, 0.7, true
	case yearToken.MatchString(sentence):
		return domain.ClaimHistorical, 0.65, true
	case numericToken.MatchString(sentence):
		return domain.ClaimStatistic, 0.7, true
	case containsWord(lower, scienceWords):
		return domain.ClaimScientific, 0.6, true
	case containsWord(lower, linkingWords):
		return domain.ClaimGeneral, 0.4, true
	default:
		return "", 0, false
	}
}

func containsWord(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(w, " ") {
			if strings.Contains(lower, w) {
				return true
			}
			continue
		}
		for _, f := range strings.FieldsFunc(lower, func(r rune) bool {
			return !unicode.IsLetter(r)
		}) {
			if f == w {
				return true
			}
		}
	}
	return false
}

type sentenceSpan struct {
	text  string
	start int
	end   int
}

func splitSentences(content string) []sentenceSpan {
	var spans []sentenceSpan
	start := 0
	for i, r := range content {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if s, ok := spanOf(content, start, i+1); ok {
			spans = append(spans, s)
		}
		start = i + 1
	}
	if s, ok := spanOf(content, start, len(content)); ok {
		spans = append(spans, s)
	}
	return spans
}

func spanOf(content string, lo, hi int) (sentenceSpan, bool) {
	seg := content[lo:hi]
	lead := strings.IndexFunc(seg, func(r rune) bool { return !unicode.IsSpace(r) })
	if lead < 0 {
		return sentenceSpan{}, false
	}
	text := strings.TrimSpace(seg)
	off := lo + lead
	return sentenceSpan{text: text, start: off, end: off + len(text)}, true
}

// contextWindow returns up to 80 bytes of surrounding text on each side,
// snapped to rune boundaries by Snippet's whitespace normalization.
func contextWindow(content string, start, end int) string {
	if start < 0 || end <= 0 || start >= len(content) {
		return domain.Snippet(content, 160)
	}
	lo := start - 80
	if lo < 0 {
		lo = 0
	}
	hi := end + 80
	if hi > len(content) {
		hi = len(content)
	}
	for lo > 0 && !utf8RuneStart(content[lo]) {
		lo--
	}
	for hi < len(content) && !utf8RuneStart(content[hi]) {
		hi++
	}
	return domain.Snippet(content[lo:hi], 200)
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
