// Package contextstore keeps per-(project, conversation) enriched context
// in a two-tier store: an in-memory LRU in front of a durable backend.
// Reads fall through memory → backend → fresh construction; writes update
// memory and enqueue an asynchronous best-effort backend write.
package contextstore

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

const (
	defaultCapacity = 100
	defaultTTL      = 24 * time.Hour
	sweepInterval   = 60 * time.Second
	persistTimeout  = 5 * time.Second
	persistQueueCap = 128
	historyLimit    = 10
)

// Store is safe for concurrent use. Values never escape by reference:
// both tiers hand out deep copies.
type Store struct {
	backend  domain.ContextRepository
	projects domain.ProjectRepository
	messages domain.MessageRepository

	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element

	persist  chan persistJob
	wg       sync.WaitGroup
	stopOnce sync.Once
	closed   atomic.Bool

	sweepEvery time.Duration
	now        func() time.Time
}

type cacheEntry struct {
	key       string
	value     domain.EnrichedContext
	expiresAt time.Time
}

type persistJob struct {
	key       string
	value     domain.EnrichedContext
	expiresAt time.Time
}

// New creates a Store and starts its persistence worker. Callers own the
// lifecycle: run Sweep in a goroutine and Close on shutdown.
func New(backend domain.ContextRepository, projects domain.ProjectRepository, messages domain.MessageRepository, capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	s := &Store{
		backend:    backend,
		projects:   projects,
		messages:   messages,
		capacity:   capacity,
		ttl:        ttl,
		ll:         list.New(),
		items:      make(map[string]*list.Element, capacity),
		persist:    make(chan persistJob, persistQueueCap),
		sweepEvery: sweepInterval,
		now:        time.Now,
	}
	s.wg.Add(1)
	go s.persistWorker()
	return s
}

// SetSweepInterval overrides how often Sweep wakes. Call before starting
// the sweep goroutine.
func (s *Store) SetSweepInterval(d time.Duration) {
	if d > 0 {
		s.sweepEvery = d
	}
}

// Load returns the context for the pair, constructing and caching a fresh
// one when neither tier has it. The returned value is a deep copy.
func (s *Store) Load(ctx domain.Context, projectID, conversationID string) (domain.EnrichedContext, error) {
	key := domain.ContextKey(projectID, conversationID)

	if ec, ok := s.fromMemory(key); ok {
		return ec, nil
	}

	ec, err := s.backend.LoadContext(ctx, key)
	if err == nil {
		s.put(key, ec)
		return ec.Clone(), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		// A backend blip is a miss, not a request failure.
		slog.WarnContext(ctx, "context backend read failed",
			slog.String("key", key), slog.Any("error", err))
	}

	fresh, err := s.build(ctx, projectID, conversationID)
	if err != nil {
		return domain.EnrichedContext{}, err
	}
	s.put(key, fresh)
	s.enqueuePersist(key, fresh)
	return fresh.Clone(), nil
}

// Save updates memory and schedules a backend write. Backend failures are
// logged by the worker, never surfaced.
func (s *Store) Save(ctx domain.Context, ec domain.EnrichedContext) {
	if ec.UpdatedAt.IsZero() {
		ec.UpdatedAt = s.now().UTC()
	}
	key := domain.ContextKey(ec.ProjectID, ec.ConversationID)
	s.put(key, ec)
	s.enqueuePersist(key, ec)
}

// Delete removes the pair from both tiers.
func (s *Store) Delete(ctx domain.Context, projectID, conversationID string) error {
	key := domain.ContextKey(projectID, conversationID)

	s.mu.Lock()
	if el, ok := s.items[key]; ok {
		s.ll.Remove(el)
		delete(s.items, key)
	}
	s.mu.Unlock()

	return s.backend.DeleteContext(ctx, key)
}

// Len reports how many entries memory currently holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

// Sweep evicts expired memory entries and prunes the backend every sweep
// interval until ctx is done.
func (s *Store) Sweep(ctx domain.Context) {
	t := time.NewTicker(s.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			removed := s.sweepMemory()
			pruned, err := s.backend.CleanupExpired(ctx)
			if err != nil {
				slog.WarnContext(ctx, "context backend cleanup failed", slog.Any("error", err))
			}
			if removed > 0 || pruned > 0 {
				slog.DebugContext(ctx, "context sweep",
					slog.Int("memory_evicted", removed), slog.Int64("backend_pruned", pruned))
			}
		}
	}
}

// Close stops accepting writes and drains the persistence queue.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.persist)
	})
	s.wg.Wait()
}

func (s *Store) fromMemory(key string) (domain.EnrichedContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		return domain.EnrichedContext{}, false
	}
	ent := el.Value.(*cacheEntry)
	if s.now().After(ent.expiresAt) {
		s.ll.Remove(el)
		delete(s.items, key)
		return domain.EnrichedContext{}, false
	}
	s.ll.MoveToFront(el)
	return ent.value.Clone(), true
}

func (s *Store) put(key string, value domain.EnrichedContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(s.ttl)
	if el, ok := s.items[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.value = value.Clone()
		ent.expiresAt = expiresAt
		s.ll.MoveToFront(el)
		return
	}

	el := s.ll.PushFront(&cacheEntry{key: key, value: value.Clone(), expiresAt: expiresAt})
	s.items[key] = el
	for s.ll.Len() > s.capacity {
		oldest := s.ll.Back()
		if oldest == nil {
			break
		}
		s.ll.Remove(oldest)
		delete(s.items, oldest.Value.(*cacheEntry).key)
	}
}

func (s *Store) sweepMemory() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for el := s.ll.Back(); el != nil; {
		prev := el.Prev()
		ent := el.Value.(*cacheEntry)
		if now.After(ent.expiresAt) {
			s.ll.Remove(el)
			delete(s.items, ent.key)
			removed++
		}
		el = prev
	}
	return removed
}

// build constructs first-contact context from project and conversation
// state. Only the project read is load-bearing; the optional lookups
// degrade to defaults so a partial outage still yields usable context.
func (s *Store) build(ctx domain.Context, projectID, conversationID string) (domain.EnrichedContext, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return domain.EnrichedContext{}, err
	}

	prefs, err := s.projects.Preferences(ctx, p.UserID)
	if err != nil {
		slog.WarnContext(ctx, "preferences read failed, using defaults",
			slog.String("user_id", p.UserID), slog.Any("error", err))
		prefs = domain.UserPreferences{Personality: "casual", Experience: "intermediate"}
	}

	styleGuide, err := s.projects.StyleGuide(ctx, projectID)
	if err != nil {
		slog.WarnContext(ctx, "style guide read failed",
			slog.String("project_id", projectID), slog.Any("error", err))
		styleGuide = nil
	}

	history, err := s.messages.RecentConversations(ctx, projectID, historyLimit)
	if err != nil {
		slog.WarnContext(ctx, "conversation history read failed",
			slog.String("project_id", projectID), slog.Any("error", err))
		history = nil
	}

	return domain.EnrichedContext{
		ProjectID:           projectID,
		ConversationID:      conversationID,
		PreviousPhases:      summarizePhases(p.Phases),
		UserPreferences:     prefs,
		ProjectContent:      p.Content,
		ConversationHistory: history,
		StyleGuide:          styleGuide,
		UpdatedAt:           s.now().UTC(),
	}, nil
}

func summarizePhases(phases []domain.Phase) []domain.PhaseSummary {
	var out []domain.PhaseSummary
	for _, ph := range phases {
		if ph.Status == domain.PhasePending {
			continue
		}
		out = append(out, domain.PhaseSummary{
			WorkerKind:  ph.Kind,
			Status:      ph.Status,
			Outputs:     ph.Outputs,
			CompletedAt: ph.CompletedAt,
		})
	}
	return out
}

func (s *Store) enqueuePersist(key string, value domain.EnrichedContext) {
	if s.closed.Load() {
		return
	}
	job := persistJob{key: key, value: value.Clone(), expiresAt: s.now().Add(s.ttl)}
	select {
	case s.persist <- job:
	default:
		slog.Warn("context persist queue full, dropping write", slog.String("key", key))
	}
}

func (s *Store) persistWorker() {
	defer s.wg.Done()
	for job := range s.persist {
		// Detached from the request: the write must survive request exit.
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.backend.SaveContext(ctx, job.key, job.value, job.expiresAt); err != nil {
			slog.Warn("context persist failed",
				slog.String("key", job.key), slog.Any("error", err))
		}
		cancel()
	}
}
