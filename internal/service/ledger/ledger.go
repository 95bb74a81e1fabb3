// Package ledger tracks per-user model spend against a monthly budget.
package ledger

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// Service records usage entries and answers budget questions from them.
type Service struct {
	repo             domain.LedgerRepository
	monthlyBudgetUSD float64
	now              func() time.Time
}

// New creates a ledger service over the given repository.
func New(repo domain.LedgerRepository, monthlyBudgetUSD float64) *Service {
	return &Service{
		repo:             repo,
		monthlyBudgetUSD: monthlyBudgetUSD,
		now:              time.Now,
	}
}

// Record persists one usage entry. The entry is written synchronously so a
// subsequent budget check sees it.
func (s *Service) Record(ctx domain.Context, e domain.LedgerEntry) error {
	if e.UserID == "" {
		return fmt.Errorf("op=ledger.Record: %w: user_id required", domain.ErrValidation)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		return fmt.Errorf("op=ledger.Record: %w", err)
	}
	observability.RecordLedgerEntry(string(e.WorkerKind), e.CostUSD)
	return nil
}

// Status reports the user's standing against the monthly budget. The window
// is the current calendar month in UTC.
func (s *Service) Status(ctx domain.Context, userID string) (domain.BudgetStatus, error) {
	spent, err := s.repo.SpendSince(ctx, userID, StartOfMonth(s.now()))
	if err != nil {
		return domain.BudgetStatus{}, fmt.Errorf("op=ledger.Status: %w", err)
	}

	st := domain.BudgetStatus{
		MonthlyBudgetUSD: s.monthlyBudgetUSD,
		CurrentSpendUSD:  spent,
		RemainingUSD:     s.monthlyBudgetUSD - spent,
	}
	if st.RemainingUSD < 0 {
		st.RemainingUSD = 0
	}
	if s.monthlyBudgetUSD > 0 {
		st.PercentUsed = spent / s.monthlyBudgetUSD * 100
		st.ApproachingLimit = spent >= 0.8*s.monthlyBudgetUSD
		st.OverBudget = spent >= s.monthlyBudgetUSD
	}
	return st, nil
}

// DailySpend returns the user's spend since the start of the current UTC day.
func (s *Service) DailySpend(ctx domain.Context, userID string) (float64, error) {
	spent, err := s.repo.SpendSince(ctx, userID, StartOfDay(s.now()))
	if err != nil {
		return 0, fmt.Errorf("op=ledger.DailySpend: %w", err)
	}
	return spent, nil
}

// Stats aggregates ledger entries for a user by worker and by model.
func (s *Service) Stats(ctx domain.Context, userID string, f domain.StatsFilter) (domain.UsageStats, error) {
	stats, err := s.repo.Aggregate(ctx, userID, f)
	if err != nil {
		return domain.UsageStats{}, fmt.Errorf("op=ledger.Stats: %w", err)
	}
	return stats, nil
}

// StartOfMonth returns the first instant of t's calendar month in UTC.
func StartOfMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns the first instant of t's calendar day in UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
