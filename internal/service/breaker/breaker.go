// Package breaker implements the circuit breaker pattern for external
// dependencies such as the model API and the search providers.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed State = iota
	// StateOpen indicates the circuit is open and calls are blocked for a cooldown period.
	StateOpen
	// StateHalfOpen indicates a trial state where a single probe call is allowed to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards one named dependency. It opens after a run of consecutive
// failures inside the monitoring window, blocks calls for a cooldown period,
// then admits a single probe. One probe success closes the circuit; a probe
// failure reopens it.
type Breaker struct {
	mu sync.Mutex

	// Configuration
	name        string
	maxFailures int
	cooldown    time.Duration
	window      time.Duration

	// State
	state        State
	failures     int
	firstFailure time.Time
	lastFailure  time.Time
	probing      bool

	// Metrics
	totalCalls     int64
	totalFailures  int64
	totalSuccesses int64
	transitions    int64
}

// New creates a breaker for the named dependency. A window of zero or less
// means failure runs never age out.
func New(name string, maxFailures int, cooldown, window time.Duration) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		window:      window,
		state:       StateClosed,
	}
	observability.SetBreakerState(name, float64(StateClosed))
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. When the circuit is open or a
// probe is already in flight it returns domain.CircuitOpenError.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.transition(StateHalfOpen)
			b.probing = true
			return nil
		}
		return &domain.CircuitOpenError{Dependency: b.name}
	case StateHalfOpen:
		// Only one probe at a time while half-open
		if b.probing {
			return &domain.CircuitOpenError{Dependency: b.name}
		}
		b.probing = true
		return nil
	default:
		return &domain.CircuitOpenError{Dependency: b.name}
	}
}

// RecordSuccess records a successful call. A success while half-open closes
// the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.totalSuccesses++

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probing = false
		b.failures = 0
		b.transition(StateClosed)
	}
}

// RecordFailure records a failed call. Reaching the failure threshold while
// closed, or any failure while half-open, opens the circuit. Failure runs
// older than the monitoring window restart the count instead of extending it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.totalCalls++
	b.totalFailures++

	if b.failures == 0 || (b.window > 0 && now.Sub(b.firstFailure) > b.window) {
		b.failures = 1
		b.firstFailure = now
	} else {
		b.failures++
	}
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		if b.failures >= b.maxFailures {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.probing = false
		b.transition(StateOpen)
	}
}

// Call executes fn under breaker protection, counting any error as a failure.
// Callers that need to classify errors should use Allow/RecordSuccess/
// RecordFailure directly.
func (b *Breaker) Call(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset returns the breaker to the closed state and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
	b.probing = false
	b.totalCalls = 0
	b.totalFailures = 0
	b.totalSuccesses = 0
	b.firstFailure = time.Time{}
	b.lastFailure = time.Time{}
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	Failures       int    `json:"failures"`
	TotalCalls     int64  `json:"total_calls"`
	TotalFailures  int64  `json:"total_failures"`
	TotalSuccesses int64  `json:"total_successes"`
	Transitions    int64  `json:"transitions"`
	LastFailure    string `json:"last_failure,omitempty"`
}

// Snapshot returns the breaker statistics.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Name:           b.name,
		State:          b.state.String(),
		Failures:       b.failures,
		TotalCalls:     b.totalCalls,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
		Transitions:    b.transitions,
	}
	if !b.lastFailure.IsZero() {
		s.LastFailure = b.lastFailure.Format(time.RFC3339)
	}
	return s
}

// transition moves to the given state. Callers must hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.transitions++
	observability.SetBreakerState(b.name, float64(to))
	observability.RecordBreakerTransition(b.name, to.String())

	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened",
			slog.String("name", b.name),
			slog.String("from", from.String()),
			slog.Int("failures", b.failures),
			slog.Int("max_failures", b.maxFailures))
	default:
		slog.Info("circuit breaker state changed",
			slog.String("name", b.name),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}
}

// Registry manages the breakers for all named dependencies.
type Registry struct {
	mu          sync.RWMutex
	breakers    map[string]*Breaker
	maxFailures int
	cooldown    time.Duration
	window      time.Duration
}

// NewRegistry creates a registry whose breakers share the given thresholds.
func NewRegistry(maxFailures int, cooldown, window time.Duration) *Registry {
	return &Registry{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		cooldown:    cooldown,
		window:      window,
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, r.maxFailures, r.cooldown, r.window)
	r.breakers[name] = b
	return b
}

// Lookup returns the breaker for name if it exists.
func (r *Registry) Lookup(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Snapshot returns statistics for every registered breaker.
func (r *Registry) Snapshot() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

// ResetAll resets every registered breaker to closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}
