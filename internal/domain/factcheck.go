package domain

import "time"

// ClaimKind classifies an extracted factual claim.
type ClaimKind string

const (
	ClaimStatistic  ClaimKind = "statistic"
	ClaimHistorical ClaimKind = "historical"
	ClaimScientific ClaimKind = "scientific"
	ClaimGeneral    ClaimKind = "general"
	ClaimOpinion    ClaimKind = "opinion"
)

// ClaimPosition locates a claim inside the source content (byte offsets).
type ClaimPosition struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Claim is a factual assertion extracted from input content.
type Claim struct {
	ID                   string        `json:"id"`
	Text                 string        `json:"text"`
	Kind                 ClaimKind     `json:"kind"`
	ExtractionConfidence float64       `json:"extraction_confidence"` // [0,1]
	Context              string        `json:"context"`
	Position             ClaimPosition `json:"position"`
}

// FactStatus is the verification verdict for one claim.
type FactStatus string

const (
	FactVerified   FactStatus = "verified"
	FactDisputed   FactStatus = "disputed"
	FactUnverified FactStatus = "unverified"
	FactFalse      FactStatus = "false"
	FactMisleading FactStatus = "misleading"
)

// SourceReference is one scored evidence source for a claim.
type SourceReference struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Domain      string  `json:"domain"`
	Credibility float64 `json:"credibility"` // [0,1]
	Relevance   float64 `json:"relevance"`   // [0,1]
	Snippet     string  `json:"snippet"`
	PublishDate string  `json:"publish_date,omitempty"`
}

// FactCheckResult is the fused verdict over all sources for one claim.
type FactCheckResult struct {
	ClaimID      string            `json:"claim_id"`
	Status       FactStatus        `json:"status"`
	Confidence   float64           `json:"confidence"` // [0,1]
	Sources      []SourceReference `json:"sources"`
	Explanation  string            `json:"explanation"`
	Alternatives []string          `json:"alternatives,omitempty"`
	LastChecked  time.Time         `json:"last_checked"`
}

// ConflictKind classifies why sources contradict a claim.
type ConflictKind string

const (
	ConflictContradictory    ConflictKind = "contradictory"
	ConflictDisputed         ConflictKind = "disputed"
	ConflictOutdated         ConflictKind = "outdated"
	ConflictContextDependent ConflictKind = "context_dependent"
)

// ConflictingInformation flags a claim whose verdict clashes with credible sources.
type ConflictingInformation struct {
	ClaimID        string            `json:"claim_id"`
	Kind           ConflictKind      `json:"kind"`
	Sources        []SourceReference `json:"sources"`
	Explanation    string            `json:"explanation"`
	Recommendation string            `json:"recommendation"`
}

// SEOKind types an SEO suggestion.
type SEOKind string

const (
	SEOInternalLink SEOKind = "internal_link"
	SEOExternalLink SEOKind = "external_link"
	SEOKeyword      SEOKind = "keyword"
	SEOMeta         SEOKind = "meta"
	SEOStructure    SEOKind = "structure"
)

// SEOSuggestion is one typed optimization suggestion for the content.
type SEOSuggestion struct {
	Kind            SEOKind `json:"kind"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Implementation  string  `json:"implementation"`
	Priority        string  `json:"priority"` // high | medium | low
	EstimatedImpact string  `json:"estimated_impact"`
}
