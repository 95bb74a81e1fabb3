package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// ContextRepo is the durable backend behind the in-memory context store.
// Values are stored as JSON blobs keyed by "{projectId}_{conversationId}".
type ContextRepo struct{ Pool PgxPool }

// NewContextRepo constructs a ContextRepo with the given pool.
func NewContextRepo(p PgxPool) *ContextRepo { return &ContextRepo{Pool: p} }

// SaveContext upserts one context entry with its expiry.
func (r *ContextRepo) SaveContext(ctx domain.Context, key string, value domain.EnrichedContext, expiresAt time.Time) error {
	tracer := otel.Tracer("repo.context")
	ctx, span := tracer.Start(ctx, "context.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "context_entries"),
	)

	blob, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("op=context.save: marshal: %w", err)
	}

	q := `INSERT INTO context_entries (key, value, updated_at, expires_at)
	      VALUES ($1,$2,$3,$4)
	      ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at, expires_at=EXCLUDED.expires_at`
	_, err = r.Pool.Exec(ctx, q, key, blob, time.Now().UTC(), expiresAt)
	if err != nil {
		return fmt.Errorf("op=context.save: %w", err)
	}
	return nil
}

// LoadContext reads one unexpired context entry. Expired or absent keys
// return domain.ErrNotFound.
func (r *ContextRepo) LoadContext(ctx domain.Context, key string) (domain.EnrichedContext, error) {
	tracer := otel.Tracer("repo.context")
	ctx, span := tracer.Start(ctx, "context.Load")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "context_entries"),
	)

	q := `SELECT value FROM context_entries WHERE key=$1 AND expires_at > $2`
	var blob []byte
	if err := r.Pool.QueryRow(ctx, q, key, time.Now().UTC()).Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EnrichedContext{}, fmt.Errorf("op=context.load: %w", domain.ErrNotFound)
		}
		return domain.EnrichedContext{}, fmt.Errorf("op=context.load: %w", err)
	}

	var value domain.EnrichedContext
	if err := json.Unmarshal(blob, &value); err != nil {
		return domain.EnrichedContext{}, fmt.Errorf("op=context.load: unmarshal: %w", err)
	}
	return value, nil
}

// DeleteContext removes one entry. Deleting an absent key is not an error.
func (r *ContextRepo) DeleteContext(ctx domain.Context, key string) error {
	tracer := otel.Tracer("repo.context")
	ctx, span := tracer.Start(ctx, "context.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "context_entries"),
	)

	if _, err := r.Pool.Exec(ctx, `DELETE FROM context_entries WHERE key=$1`, key); err != nil {
		return fmt.Errorf("op=context.delete: %w", err)
	}
	return nil
}

// CleanupExpired deletes entries past their expiry and returns the count.
func (r *ContextRepo) CleanupExpired(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("repo.context")
	ctx, span := tracer.Start(ctx, "context.CleanupExpired")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "context_entries"),
	)

	tag, err := r.Pool.Exec(ctx, `DELETE FROM context_entries WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("op=context.cleanup_expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
