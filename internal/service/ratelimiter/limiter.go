// Package ratelimiter admits or refuses requests per user based on a fixed
// request window and the user's daily and monthly spend.
package ratelimiter

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/ledger"
)

// BudgetView is the slice of the cost ledger the limiter consults.
type BudgetView interface {
	Status(ctx domain.Context, userID string) (domain.BudgetStatus, error)
	DailySpend(ctx domain.Context, userID string) (float64, error)
}

type userWindow struct {
	mu           sync.Mutex
	windowStart  time.Time
	count        int
	lastSeenNano atomic.Int64
}

// Limiter tracks one fixed window per user. A request is admitted when the
// window has a free slot and the estimated cost fits under both the
// monthly budget and the daily cap.
type Limiter struct {
	budget       BudgetView
	maxPerWindow int
	window       time.Duration
	dailyCapUSD  float64

	mu    sync.RWMutex
	users map[string]*userWindow
	now   func() time.Time
}

// New creates a limiter. A dailyCapUSD of zero or less disables the daily
// budget check.
func New(budget BudgetView, maxPerWindow int, window time.Duration, dailyCapUSD float64) *Limiter {
	return &Limiter{
		budget:       budget,
		maxPerWindow: maxPerWindow,
		window:       window,
		dailyCapUSD:  dailyCapUSD,
		users:        make(map[string]*userWindow),
		now:          time.Now,
	}
}

// Allow admits the request or returns domain.RateLimitedError. A refused
// request does not consume a window slot.
func (l *Limiter) Allow(ctx domain.Context, userID string, estimatedCostUSD float64) error {
	u := l.user(userID)
	now := l.now()
	u.lastSeenNano.Store(now.UnixNano())

	u.mu.Lock()
	defer u.mu.Unlock()

	if now.Sub(u.windowStart) >= l.window {
		u.windowStart = now
		u.count = 0
	}

	if u.count >= l.maxPerWindow {
		return refuse(domain.ReasonWindow, u.windowStart.Add(l.window).Sub(now))
	}

	// Budget checks run only when a window slot is available.
	st, err := l.budget.Status(ctx, userID)
	if err != nil {
		// Fail open on ledger read errors to avoid a hard outage on admission.
		slog.Error("rate limiter monthly budget check failed",
			slog.String("user_id", userID), slog.Any("error", err))
	} else if st.OverBudget || (st.MonthlyBudgetUSD > 0 && st.CurrentSpendUSD+estimatedCostUSD > st.MonthlyBudgetUSD) {
		return refuse(domain.ReasonMonthlyBudget, ledger.StartOfMonth(now).AddDate(0, 1, 0).Sub(now))
	}

	if l.dailyCapUSD > 0 {
		daily, err := l.budget.DailySpend(ctx, userID)
		if err != nil {
			slog.Error("rate limiter daily budget check failed",
				slog.String("user_id", userID), slog.Any("error", err))
		} else if daily+estimatedCostUSD > l.dailyCapUSD {
			return refuse(domain.ReasonDailyBudget, ledger.StartOfDay(now).Add(24*time.Hour).Sub(now))
		}
	}

	u.count++
	return nil
}

// Sweep drops window state for users idle longer than ten windows and
// returns how many were removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-10 * l.window).UnixNano()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, u := range l.users {
		if u.lastSeenNano.Load() < cutoff {
			delete(l.users, id)
			removed++
		}
	}
	return removed
}

func (l *Limiter) user(id string) *userWindow {
	l.mu.RLock()
	u, ok := l.users[id]
	l.mu.RUnlock()
	if ok {
		return u
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.users[id]; ok {
		return u
	}
	u = &userWindow{}
	l.users[id] = u
	return u
}

func refuse(reason domain.RateLimitReason, retryAfter time.Duration) error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	observability.RecordRateLimitRefusal(string(reason))
	return &domain.RateLimitedError{Reason: reason, RetryAfterMs: retryAfter.Milliseconds()}
}
