package domain

import "time"

// Ports. Adapters implement these; usecases and services depend on them.

//go:generate mockery --name=Worker --with-expecter --filename=worker_mock.go
//go:generate mockery --name=LLMClient --with-expecter --filename=llm_client_mock.go
//go:generate mockery --name=SearchProvider --with-expecter --filename=search_provider_mock.go
//go:generate mockery --name=LedgerRepository --with-expecter --filename=ledger_repository_mock.go
//go:generate mockery --name=ContextRepository --with-expecter --filename=context_repository_mock.go
//go:generate mockery --name=MessageRepository --with-expecter --filename=message_repository_mock.go
//go:generate mockery --name=ProjectRepository --with-expecter --filename=project_repository_mock.go
//go:generate mockery --name=MessageQueue --with-expecter --filename=message_queue_mock.go

// CallSpec fixes the model parameters for one worker dispatch. The worker
// client fingerprints over these, so they must be decided before the call.
type CallSpec struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// WorkerStats is the per-worker metrics snapshot.
type WorkerStats struct {
	Requests     int64
	Failures     int64
	AvgLatencyMs float64
}

// Worker is one of the four role implementations. Process must honor ctx
// cancellation at every I/O point.
type Worker interface {
	Kind() WorkerKind
	Validate(req Request) error
	BuildSystemContext(ec EnrichedContext) string
	Process(ctx Context, req Request, ec EnrichedContext, spec CallSpec) (*Response, error)
	HealthCheck(ctx Context) error
	Stats() WorkerStats
}

// ChatMessage is one turn of a chat-completion exchange.
type ChatMessage struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// CallTags identify an outbound LLM call in traces and provider logs.
type CallTags struct {
	Worker    WorkerKind
	UserID    string
	RequestID string
}

// ChatRequest is an outbound chat-completion call.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	Tags        CallTags
}

// ChatResponse is the provider reply. Usage is mandatory; a reply without
// usage is treated as a terminal upstream error by implementations.
type ChatResponse struct {
	Content string
	Usage   Usage
}

// LLMClient is the chat-completion provider port.
type LLMClient interface {
	Chat(ctx Context, req ChatRequest) (ChatResponse, error)
}

// SearchResult is one raw hit from a search provider.
type SearchResult struct {
	Title       string
	URL         string
	Snippet     string
	Source      string
	PublishDate string
}

// SearchProvider is one outbound search backend (DuckDuckGo, SERP).
type SearchProvider interface {
	Name() string
	Search(ctx Context, query string, limit int) ([]SearchResult, error)
}

// ResponseCache is the advisory content-addressed response cache.
// Implementations absorb backend errors: Get misses on error, Set is
// fire-and-forget.
type ResponseCache interface {
	Get(ctx Context, key string) (*Response, bool)
	Set(ctx Context, key string, value *Response, ttl time.Duration)
}

// FactCache memoizes verification verdicts by normalized claim text.
type FactCache interface {
	Get(ctx Context, claimText string) (*FactCheckResult, bool)
	Set(ctx Context, claimText string, result *FactCheckResult)
}

// LedgerRepository persists usage entries and answers spend queries.
type LedgerRepository interface {
	Insert(ctx Context, e LedgerEntry) error
	// SpendSince sums CostUSD for entries with CreatedAt in [since, now).
	SpendSince(ctx Context, userID string, since time.Time) (float64, error)
	Aggregate(ctx Context, userID string, f StatsFilter) (UsageStats, error)
}

// ContextRepository is the opaque persistence backend for context entries.
// Keys are ContextKey(projectID, conversationID).
type ContextRepository interface {
	SaveContext(ctx Context, key string, value EnrichedContext, expiresAt time.Time) error
	LoadContext(ctx Context, key string) (EnrichedContext, error)
	DeleteContext(ctx Context, key string) error
	CleanupExpired(ctx Context) (int64, error)
}

// MessageRepository persists and reads conversation messages.
type MessageRepository interface {
	// InsertPair writes the user row then the agent row atomically.
	InsertPair(ctx Context, user, agent Message) error
	ListByConversation(ctx Context, conversationID string, limit int) ([]Message, error)
	CountByConversation(ctx Context, conversationID string) (int, error)
	RecentConversations(ctx Context, projectID string, limit int) ([]ConversationSummary, error)
}

// ProjectRepository reads project and user state owned by the wider product.
type ProjectRepository interface {
	Get(ctx Context, id string) (Project, error)
	Preferences(ctx Context, userID string) (UserPreferences, error)
	StyleGuide(ctx Context, projectID string) (*StyleGuide, error)
}

// MessageQueue publishes message-pair events for asynchronous persistence.
type MessageQueue interface {
	PublishMessagePair(ctx Context, event MessagePairEvent) error
}
