package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// MessageRepo persists conversation messages written by the persister
// consumer and read back as conversation history.
type MessageRepo struct{ Pool PgxPool }

// NewMessageRepo constructs a MessageRepo with the given pool.
func NewMessageRepo(p PgxPool) *MessageRepo { return &MessageRepo{Pool: p} }

// InsertPair writes the user row then the agent row in one transaction.
// Inserts are idempotent on message id (ON CONFLICT DO NOTHING) so the
// at-least-once consumer can redeliver safely.
func (r *MessageRepo) InsertPair(ctx domain.Context, user, agent domain.Message) error {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.InsertPair")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "messages"),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=messages.insert_pair: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, m := range []domain.Message{user, agent} {
		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=messages.insert_pair: commit: %w", err)
	}
	return nil
}

func insertMessage(ctx domain.Context, tx pgx.Tx, m domain.Message) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("op=messages.insert_pair: marshal metadata: %w", err)
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	q := `INSERT INTO messages (id, conversation_id, project_id, user_id, role, worker_kind, content, metadata, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (id) DO NOTHING`
	_, err = tx.Exec(ctx, q, m.ID, m.ConversationID, m.ProjectID, m.UserID, m.Role, m.WorkerKind, m.Content, meta, createdAt)
	if err != nil {
		return fmt.Errorf("op=messages.insert_pair: %w", err)
	}
	return nil
}

// ListByConversation returns the most recent messages of a conversation in
// chronological order, capped at limit.
func (r *MessageRepo) ListByConversation(ctx domain.Context, conversationID string, limit int) ([]domain.Message, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.ListByConversation")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "messages"),
	)

	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, conversation_id, project_id, user_id, role, worker_kind, content, metadata, created_at
	      FROM (
	        SELECT * FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2
	      ) recent
	      ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=messages.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m    domain.Message
			meta []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ProjectID, &m.UserID, &m.Role, &m.WorkerKind, &m.Content, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=messages.list: scan: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, fmt.Errorf("op=messages.list: unmarshal metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=messages.list: rows: %w", err)
	}
	return out, nil
}

// CountByConversation returns how many messages a conversation holds.
func (r *MessageRepo) CountByConversation(ctx domain.Context, conversationID string) (int, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.CountByConversation")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "messages"),
	)

	var count int
	q := `SELECT COUNT(*) FROM messages WHERE conversation_id=$1`
	if err := r.Pool.QueryRow(ctx, q, conversationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("op=messages.count: %w", err)
	}
	return count, nil
}

// RecentConversations summarizes a project's latest conversations for the
// context store's history section.
func (r *MessageRepo) RecentConversations(ctx domain.Context, projectID string, limit int) ([]domain.ConversationSummary, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.RecentConversations")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "messages"),
	)

	if limit <= 0 {
		limit = 10
	}
	q := `SELECT m.conversation_id,
	             (SELECT worker_kind FROM messages WHERE conversation_id=m.conversation_id AND role='agent' ORDER BY created_at DESC LIMIT 1),
	             COUNT(*),
	             (SELECT content FROM messages WHERE conversation_id=m.conversation_id ORDER BY created_at DESC LIMIT 1),
	             MAX(m.created_at)
	      FROM messages m
	      WHERE m.project_id=$1
	      GROUP BY m.conversation_id
	      ORDER BY MAX(m.created_at) DESC
	      LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=messages.recent_conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.ConversationSummary
	for rows.Next() {
		var (
			s       domain.ConversationSummary
			worker  *string
			content string
			count   int64
		)
		if err := rows.Scan(&s.ConversationID, &worker, &count, &content, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("op=messages.recent_conversations: scan: %w", err)
		}
		if worker != nil {
			s.WorkerKind = domain.WorkerKind(*worker)
		}
		s.MessageCount = int(count)
		s.LastMessageSnippet = domain.Snippet(content, 120)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=messages.recent_conversations: rows: %w", err)
	}
	return out, nil
}
