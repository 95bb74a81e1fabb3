package domain

import (
	"context"
	"strings"
	"time"
)

// WorkerKind enumerates the four worker roles.
type WorkerKind string

const (
	WorkerIdeation    WorkerKind = "ideation"
	WorkerRefiner     WorkerKind = "refiner"
	WorkerMedia       WorkerKind = "media"
	WorkerFactChecker WorkerKind = "factchecker"

	// WorkerCurrentPhase is a routing sentinel, resolved to the project's
	// active phase before dispatch. Never a real worker.
	WorkerCurrentPhase WorkerKind = "current_phase"
)

// AllWorkerKinds lists the dispatchable roles (sentinel excluded).
var AllWorkerKinds = []WorkerKind{WorkerIdeation, WorkerRefiner, WorkerMedia, WorkerFactChecker}

// Valid reports whether k names a dispatchable worker role.
func (k WorkerKind) Valid() bool {
	switch k {
	case WorkerIdeation, WorkerRefiner, WorkerMedia, WorkerFactChecker:
		return true
	}
	return false
}

// RequestType classifies an incoming request for routing.
type RequestType string

const (
	RequestNewConversation      RequestType = "new_conversation"
	RequestContinueConversation RequestType = "continue_conversation"
	RequestPhaseTransition      RequestType = "phase_transition"
)

// Request is one user writing request.
// Invariants: Content non-empty and <= configured max; UserID and ProjectID required.
type Request struct {
	ID              string
	UserID          string
	ProjectID       string
	ConversationID  string
	Content         string
	PreferredWorker WorkerKind
	Options         map[string]any
}

// OptionBool reads a boolean flag from the request option bag.
func (r Request) OptionBool(name string) bool {
	v, ok := r.Options[name]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Usage is raw token usage as reported by the LLM provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TokenUsage is priced token usage attached to a response.
type TokenUsage struct {
	Prompt     int     `json:"prompt"`
	Completion int     `json:"completion"`
	Total      int     `json:"total"`
	CostUSD    float64 `json:"cost_usd"`
}

// Suggestion is a response-level follow-up hint for the user.
type Suggestion struct {
	Kind        string `json:"kind"` // action | resource | improvement
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"` // high | medium | low
}

const (
	SuggestionAction      = "action"
	SuggestionResource    = "resource"
	SuggestionImprovement = "improvement"
)

// ResponseMetadata carries processing facts about one worker response.
type ResponseMetadata struct {
	ProcessingTimeMs int64      `json:"processing_time_ms"`
	TokenUsage       TokenUsage `json:"token_usage"`
	Model            string     `json:"model"`
	Confidence       float64    `json:"confidence"` // [0,1]
	NextSteps        []string   `json:"next_steps"`
}

// Response is the orchestrator's answer to one request.
type Response struct {
	Content      string           `json:"content"`
	Suggestions  []Suggestion     `json:"suggestions,omitempty"`
	Metadata     ResponseMetadata `json:"metadata"`
	PhaseOutputs *PhaseOutputs    `json:"phase_outputs,omitempty"`
}

// PhaseOutputs carries structured per-phase results for downstream consumers.
// Only the sections a worker actually produced are populated.
type PhaseOutputs struct {
	Claims           []Claim                  `json:"claims,omitempty"`
	FactCheckResults []FactCheckResult        `json:"fact_check_results,omitempty"`
	Conflicts        []ConflictingInformation `json:"conflicts,omitempty"`
	SEOSuggestions   []SEOSuggestion          `json:"seo_suggestions,omitempty"`
	Extra            map[string]any           `json:"extra,omitempty"`
}

// PhaseStatus enumerates phase lifecycle states.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseActive    PhaseStatus = "active"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
)

// Phase is one stage of a project bound to a worker kind.
// Invariants: exactly one phase per project is active at a time;
// transitions pending -> active -> completed|failed, re-activation allowed on rollback.
type Phase struct {
	ID          string         `json:"id"`
	Kind        WorkerKind     `json:"kind"`
	Status      PhaseStatus    `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
}

// PhaseSummary is the context-store view of a past phase.
type PhaseSummary struct {
	WorkerKind  WorkerKind     `json:"worker_kind"`
	Status      PhaseStatus    `json:"status"` // completed | failed | active
	Outputs     map[string]any `json:"outputs,omitempty"`
	Summary     string         `json:"summary"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Project is the orchestrator's read model of a writing project.
type Project struct {
	ID        string
	UserID    string
	Status    string
	Content   string
	Phases    []Phase
	UpdatedAt time.Time
}

// ActivePhase returns the project's active phase, or nil.
func (p Project) ActivePhase() *Phase {
	for i := range p.Phases {
		if p.Phases[i].Status == PhaseActive {
			return &p.Phases[i]
		}
	}
	return nil
}

// HasCompleted reports whether a phase of the given kind completed.
func (p Project) HasCompleted(kind WorkerKind) bool {
	for i := range p.Phases {
		if p.Phases[i].Kind == kind && p.Phases[i].Status == PhaseCompleted {
			return true
		}
	}
	return false
}

// UserPreferences shape worker tone and difficulty.
type UserPreferences struct {
	Personality string   `json:"personality"` // casual | formal | direct
	Genres      []string `json:"genres"`
	Experience  string   `json:"experience"` // beginner | intermediate | advanced
}

// ConversationSummary is one bounded history item inside a context entry.
type ConversationSummary struct {
	ConversationID     string     `json:"conversation_id"`
	WorkerKind         WorkerKind `json:"worker_kind"`
	MessageCount       int        `json:"message_count"`
	LastMessageSnippet string     `json:"last_message_snippet"`
	Timestamp          time.Time  `json:"timestamp"`
}

// StyleGuide captures optional per-project style constraints.
type StyleGuide struct {
	ReferenceWriters []string `json:"reference_writers"`
	Tone             string   `json:"tone"`
	TargetAudience   string   `json:"target_audience"`
	ExampleText      string   `json:"example_text"`
}

// EnrichedContext is the per-(project, conversation) state handed to workers.
// Invariants: PreviousPhases append-only except status transitions on the
// latest entry; CompletedAt monotonic; an entry exists iff at least one
// message has been dispatched for the pair.
type EnrichedContext struct {
	ProjectID           string                `json:"project_id"`
	ConversationID      string                `json:"conversation_id"`
	PreviousPhases      []PhaseSummary        `json:"previous_phases"`
	UserPreferences     UserPreferences       `json:"user_preferences"`
	ProjectContent      string                `json:"project_content"`
	ConversationHistory []ConversationSummary `json:"conversation_history"`
	StyleGuide          *StyleGuide           `json:"style_guide,omitempty"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// ContextKey builds the persistence key for a (project, conversation) pair.
func ContextKey(projectID, conversationID string) string {
	return projectID + "_" + conversationID
}

// Clone returns a deep copy so store internals never escape to callers.
func (c EnrichedContext) Clone() EnrichedContext {
	out := c
	if c.PreviousPhases != nil {
		out.PreviousPhases = make([]PhaseSummary, len(c.PreviousPhases))
		copy(out.PreviousPhases, c.PreviousPhases)
		for i, ph := range c.PreviousPhases {
			if ph.Outputs != nil {
				m := make(map[string]any, len(ph.Outputs))
				for k, v := range ph.Outputs {
					m[k] = v
				}
				out.PreviousPhases[i].Outputs = m
			}
		}
	}
	if c.ConversationHistory != nil {
		out.ConversationHistory = make([]ConversationSummary, len(c.ConversationHistory))
		copy(out.ConversationHistory, c.ConversationHistory)
	}
	if c.UserPreferences.Genres != nil {
		out.UserPreferences.Genres = append([]string(nil), c.UserPreferences.Genres...)
	}
	if c.StyleGuide != nil {
		sg := *c.StyleGuide
		sg.ReferenceWriters = append([]string(nil), c.StyleGuide.ReferenceWriters...)
		out.StyleGuide = &sg
	}
	return out
}

// RoutingContext is the derived record routing rules evaluate against.
type RoutingContext struct {
	CurrentPhase    WorkerKind
	ProjectStatus   string
	PreviousPhases  []PhaseSummary
	ContentLength   int
	LastWorker      WorkerKind
	RequestType     RequestType
	UserPreferences UserPreferences
	PreferredWorker WorkerKind
}

// HasCompletedPhase reports whether a phase of the given kind is completed.
func (rc RoutingContext) HasCompletedPhase(kind WorkerKind) bool {
	for _, ph := range rc.PreviousPhases {
		if ph.WorkerKind == kind && ph.Status == PhaseCompleted {
			return true
		}
	}
	return false
}

// LedgerEntry is one immutable usage record.
type LedgerEntry struct {
	ID               string
	UserID           string
	WorkerKind       WorkerKind
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	RequestID        string
	CreatedAt        time.Time
	Metadata         map[string]any
}

// BudgetStatus answers "where does this user stand against the monthly budget".
type BudgetStatus struct {
	MonthlyBudgetUSD float64 `json:"monthly_budget_usd"`
	CurrentSpendUSD  float64 `json:"current_spend_usd"`
	RemainingUSD     float64 `json:"remaining_usd"`
	PercentUsed      float64 `json:"percent_used"`
	ApproachingLimit bool    `json:"approaching_limit"` // >= 80%
	OverBudget       bool    `json:"over_budget"`       // >= 100%
}

// StatsFilter narrows a usage-stats query. Zero values mean unbounded.
type StatsFilter struct {
	From       time.Time
	To         time.Time
	WorkerKind WorkerKind
}

// UsageAggregate is a sum bucket for usage stats.
type UsageAggregate struct {
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// UsageStats groups ledger aggregates by worker and by model.
type UsageStats struct {
	ByWorker map[WorkerKind]UsageAggregate `json:"by_worker"`
	ByModel  map[string]UsageAggregate     `json:"by_model"`
	Total    UsageAggregate                `json:"total"`
}

// MessageRole distinguishes the two rows of a persisted pair.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleAgent MessageRole = "agent"
)

// Message is one persisted conversation message.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	ProjectID      string         `json:"project_id"`
	UserID         string         `json:"user_id"`
	Role           MessageRole    `json:"role"`
	WorkerKind     WorkerKind     `json:"worker_kind"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MessagePairEvent is the queue payload persisting one request's user+agent pair.
// Keyed by ConversationID on the wire so pairs of one conversation land in order.
type MessagePairEvent struct {
	RequestID      string  `json:"request_id"`
	ConversationID string  `json:"conversation_id"`
	User           Message `json:"user"`
	Agent          Message `json:"agent"`
}

// Snippet returns the first n runes of s with whitespace collapsed.
func Snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Context is an alias to keep domain signatures decoupled from std context
// at the import level; adapters and usecases pass context.Context through.
type Context = context.Context
