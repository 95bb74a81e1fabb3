package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

type stubLedgerRepo struct {
	entries   []domain.LedgerEntry
	spend     float64
	lastSince time.Time
	insertErr error
	spendErr  error
}

func (r *stubLedgerRepo) Insert(_ domain.Context, e domain.LedgerEntry) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *stubLedgerRepo) SpendSince(_ domain.Context, _ string, since time.Time) (float64, error) {
	r.lastSince = since
	return r.spend, r.spendErr
}

func (r *stubLedgerRepo) Aggregate(_ domain.Context, _ string, _ domain.StatsFilter) (domain.UsageStats, error) {
	return domain.UsageStats{Total: domain.UsageAggregate{Requests: int64(len(r.entries))}}, nil
}

func TestRecord_StampsCreatedAt(t *testing.T) {
	t.Parallel()
	repo := &stubLedgerRepo{}
	svc := New(repo, 20)
	fixed := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	err := svc.Record(context.Background(), domain.LedgerEntry{
		UserID:     "u1",
		WorkerKind: domain.WorkerFactChecker,
		Model:      "gpt-4o-mini",
		CostUSD:    0.01,
	})
	require.NoError(t, err)
	require.Len(t, repo.entries, 1)
	assert.Equal(t, fixed, repo.entries[0].CreatedAt)
}

func TestRecord_RequiresUserID(t *testing.T) {
	t.Parallel()
	svc := New(&stubLedgerRepo{}, 20)
	err := svc.Record(context.Background(), domain.LedgerEntry{CostUSD: 0.01})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestRecord_PropagatesInsertError(t *testing.T) {
	t.Parallel()
	repo := &stubLedgerRepo{insertErr: errors.New("pg down")}
	svc := New(repo, 20)
	err := svc.Record(context.Background(), domain.LedgerEntry{UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pg down")
}

func TestStatus_MonthlyWindow(t *testing.T) {
	t.Parallel()
	repo := &stubLedgerRepo{spend: 4}
	svc := New(repo, 20)
	fixed := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	st, err := svc.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), repo.lastSince)
	assert.Equal(t, 20.0, st.MonthlyBudgetUSD)
	assert.Equal(t, 4.0, st.CurrentSpendUSD)
	assert.Equal(t, 16.0, st.RemainingUSD)
	assert.InDelta(t, 20.0, st.PercentUsed, 1e-9)
	assert.False(t, st.ApproachingLimit)
	assert.False(t, st.OverBudget)
}

func TestStatus_Thresholds(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name        string
		spend       float64
		approaching bool
		over        bool
		remaining   float64
	}{
		{name: "under warning", spend: 15.99, approaching: false, over: false, remaining: 4.01},
		{name: "at warning", spend: 16, approaching: true, over: false, remaining: 4},
		{name: "at limit", spend: 20, approaching: true, over: true, remaining: 0},
		{name: "over limit", spend: 25, approaching: true, over: true, remaining: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := New(&stubLedgerRepo{spend: tc.spend}, 20)
			st, err := svc.Status(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, tc.approaching, st.ApproachingLimit)
			assert.Equal(t, tc.over, st.OverBudget)
			assert.InDelta(t, tc.remaining, st.RemainingUSD, 1e-9)
		})
	}
}

func TestDailySpend_DailyWindow(t *testing.T) {
	t.Parallel()
	repo := &stubLedgerRepo{spend: 1.5}
	svc := New(repo, 20)
	fixed := time.Date(2025, 3, 15, 23, 59, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	spend, err := svc.DailySpend(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1.5, spend)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), repo.lastSince)
}

func TestWindowHelpers_UTC(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("plus5", 5*3600)
	// 01:30 on March 1st at +05:00 is still February 28th in UTC
	local := time.Date(2025, 3, 1, 1, 30, 0, 0, loc)

	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), StartOfMonth(local))
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), StartOfDay(local))
}
