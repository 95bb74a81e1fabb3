// Package postgres provides the PostgreSQL adapters behind the ledger,
// context, message and project ports.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// LedgerRepo persists usage entries and answers spend queries.
type LedgerRepo struct{ Pool PgxPool }

// NewLedgerRepo constructs a LedgerRepo with the given pool.
func NewLedgerRepo(p PgxPool) *LedgerRepo { return &LedgerRepo{Pool: p} }

// Insert appends one usage entry. Entries are immutable once written.
func (r *LedgerRepo) Insert(ctx domain.Context, e domain.LedgerEntry) error {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "usage_entries"),
	)

	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("op=ledger.insert: marshal metadata: %w", err)
	}

	q := `INSERT INTO usage_entries (id, user_id, worker_kind, model, prompt_tokens, completion_tokens, cost_usd, request_id, created_at, metadata)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err = r.Pool.Exec(ctx, q, id, e.UserID, e.WorkerKind, e.Model,
		e.PromptTokens, e.CompletionTokens, e.CostUSD, e.RequestID, createdAt, meta)
	if err != nil {
		return fmt.Errorf("op=ledger.insert: %w", err)
	}
	return nil
}

// SpendSince sums cost for a user's entries created at or after since.
func (r *LedgerRepo) SpendSince(ctx domain.Context, userID string, since time.Time) (float64, error) {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.SpendSince")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "usage_entries"),
	)

	q := `SELECT COALESCE(SUM(cost_usd), 0) FROM usage_entries WHERE user_id=$1 AND created_at >= $2`
	var total float64
	if err := r.Pool.QueryRow(ctx, q, userID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("op=ledger.spend_since: %w", err)
	}
	return total, nil
}

// Aggregate groups a user's usage by worker and by model within the filter
// bounds. Zero filter values mean unbounded.
func (r *LedgerRepo) Aggregate(ctx domain.Context, userID string, f domain.StatsFilter) (domain.UsageStats, error) {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.Aggregate")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "usage_entries"),
	)

	q := `SELECT worker_kind, model, COUNT(*), COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0), COALESCE(SUM(cost_usd),0)
	      FROM usage_entries
	      WHERE user_id=$1
	        AND ($2::timestamptz IS NULL OR created_at >= $2)
	        AND ($3::timestamptz IS NULL OR created_at < $3)
	        AND ($4::text IS NULL OR worker_kind = $4)
	      GROUP BY worker_kind, model`

	var from, to *time.Time
	if !f.From.IsZero() {
		from = &f.From
	}
	if !f.To.IsZero() {
		to = &f.To
	}
	var worker *string
	if f.WorkerKind != "" {
		w := string(f.WorkerKind)
		worker = &w
	}

	rows, err := r.Pool.Query(ctx, q, userID, from, to, worker)
	if err != nil {
		return domain.UsageStats{}, fmt.Errorf("op=ledger.aggregate: %w", err)
	}
	defer rows.Close()

	stats := domain.UsageStats{
		ByWorker: make(map[domain.WorkerKind]domain.UsageAggregate),
		ByModel:  make(map[string]domain.UsageAggregate),
	}
	for rows.Next() {
		var (
			workerKind string
			model      string
			agg        domain.UsageAggregate
		)
		if err := rows.Scan(&workerKind, &model, &agg.Requests, &agg.PromptTokens, &agg.CompletionTokens, &agg.CostUSD); err != nil {
			return domain.UsageStats{}, fmt.Errorf("op=ledger.aggregate: scan: %w", err)
		}

		kind := domain.WorkerKind(workerKind)
		byWorker := stats.ByWorker[kind]
		byWorker.Requests += agg.Requests
		byWorker.PromptTokens += agg.PromptTokens
		byWorker.CompletionTokens += agg.CompletionTokens
		byWorker.CostUSD += agg.CostUSD
		stats.ByWorker[kind] = byWorker

		byModel := stats.ByModel[model]
		byModel.Requests += agg.Requests
		byModel.PromptTokens += agg.PromptTokens
		byModel.CompletionTokens += agg.CompletionTokens
		byModel.CostUSD += agg.CostUSD
		stats.ByModel[model] = byModel

		stats.Total.Requests += agg.Requests
		stats.Total.PromptTokens += agg.PromptTokens
		stats.Total.CompletionTokens += agg.CompletionTokens
		stats.Total.CostUSD += agg.CostUSD
	}
	if err := rows.Err(); err != nil {
		return domain.UsageStats{}, fmt.Errorf("op=ledger.aggregate: rows: %w", err)
	}
	return stats, nil
}
