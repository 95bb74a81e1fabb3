package postgres_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

func messagePair() (domain.Message, domain.Message) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	user := domain.Message{
		ID:             "msg-u",
		ConversationID: "conv-1",
		ProjectID:      "proj-1",
		UserID:         "user-1",
		Role:           domain.RoleUser,
		Content:        "Sharpen the opening paragraph.",
		CreatedAt:      now,
	}
	agent := domain.Message{
		ID:             "msg-a",
		ConversationID: "conv-1",
		ProjectID:      "proj-1",
		UserID:         "user-1",
		Role:           domain.RoleAgent,
		WorkerKind:     domain.WorkerRefiner,
		Content:        "Here is a tighter opening.",
		Metadata:       map[string]any{"model": "gpt-4o-mini"},
		CreatedAt:      now.Add(2 * time.Second),
	}
	return user, agent
}

func TestMessageRepo_InsertPair(t *testing.T) {
	t.Parallel()

	pool := &poolStub{tx: &txStub{}}
	repo := postgres.NewMessageRepo(pool)
	user, agent := messagePair()

	require.NoError(t, repo.InsertPair(context.Background(), user, agent))

	tx := pool.tx
	require.Len(t, tx.execSQL, 2)
	assert.Contains(t, tx.execSQL[0], "INSERT INTO messages")
	assert.Contains(t, tx.execSQL[0], "ON CONFLICT (id) DO NOTHING")
	assert.Equal(t, "msg-u", tx.execArgs[0][0])
	assert.Equal(t, domain.RoleUser, tx.execArgs[0][4])
	assert.Equal(t, "msg-a", tx.execArgs[1][0])
	assert.Equal(t, domain.RoleAgent, tx.execArgs[1][4])
	assert.Equal(t, domain.WorkerRefiner, tx.execArgs[1][5])
	assert.True(t, tx.committed)
	assert.True(t, tx.rolledBack, "deferred rollback still runs after commit")
}

func TestMessageRepo_InsertPair_ExecError(t *testing.T) {
	t.Parallel()

	pool := &poolStub{tx: &txStub{execErr: assert.AnError}}
	repo := postgres.NewMessageRepo(pool)
	user, agent := messagePair()

	err := repo.InsertPair(context.Background(), user, agent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=messages.insert_pair")
	assert.False(t, pool.tx.committed)
	assert.True(t, pool.tx.rolledBack)
}

func TestMessageRepo_InsertPair_BeginError(t *testing.T) {
	t.Parallel()

	pool := &poolStub{txErr: assert.AnError}
	repo := postgres.NewMessageRepo(pool)
	user, agent := messagePair()

	err := repo.InsertPair(context.Background(), user, agent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=messages.insert_pair: begin")
}

func TestMessageRepo_InsertPair_CommitError(t *testing.T) {
	t.Parallel()

	pool := &poolStub{tx: &txStub{commitErr: assert.AnError}}
	repo := postgres.NewMessageRepo(pool)
	user, agent := messagePair()

	err := repo.InsertPair(context.Background(), user, agent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=messages.insert_pair: commit")
}

func TestMessageRepo_ListByConversation(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	rows := &rowsStub{scans: []func(dest ...any) error{
		func(dest ...any) error {
			*(dest[0].(*string)) = "msg-u"
			*(dest[1].(*string)) = "conv-1"
			*(dest[2].(*string)) = "proj-1"
			*(dest[3].(*string)) = "user-1"
			*(dest[4].(*domain.MessageRole)) = domain.RoleUser
			*(dest[5].(*domain.WorkerKind)) = ""
			*(dest[6].(*string)) = "Sharpen the opening paragraph."
			*(dest[7].(*[]byte)) = nil
			*(dest[8].(*time.Time)) = now
			return nil
		},
		func(dest ...any) error {
			*(dest[0].(*string)) = "msg-a"
			*(dest[1].(*string)) = "conv-1"
			*(dest[2].(*string)) = "proj-1"
			*(dest[3].(*string)) = "user-1"
			*(dest[4].(*domain.MessageRole)) = domain.RoleAgent
			*(dest[5].(*domain.WorkerKind)) = domain.WorkerRefiner
			*(dest[6].(*string)) = "Here is a tighter opening."
			*(dest[7].(*[]byte)) = []byte(`{"model":"gpt-4o-mini"}`)
			*(dest[8].(*time.Time)) = now.Add(2 * time.Second)
			return nil
		},
	}}
	pool := &poolStub{rows: rows}
	repo := postgres.NewMessageRepo(pool)

	msgs, err := repo.ListByConversation(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, domain.WorkerRefiner, msgs[1].WorkerKind)
	assert.Equal(t, "gpt-4o-mini", msgs[1].Metadata["model"])
	assert.Nil(t, msgs[0].Metadata)

	// limit <= 0 falls back to the default page size
	require.Len(t, pool.queryArg, 1)
	assert.Equal(t, []any{"conv-1", 50}, pool.queryArg[0])
}

func TestMessageRepo_ListByConversation_Errors(t *testing.T) {
	t.Parallel()

	t.Run("query error", func(t *testing.T) {
		t.Parallel()
		pool := &poolStub{queryErr: assert.AnError}
		repo := postgres.NewMessageRepo(pool)
		_, err := repo.ListByConversation(context.Background(), "conv-1", 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "op=messages.list")
	})

	t.Run("scan error", func(t *testing.T) {
		t.Parallel()
		pool := &poolStub{rows: &rowsStub{scans: []func(dest ...any) error{
			func(...any) error { return assert.AnError },
		}}}
		repo := postgres.NewMessageRepo(pool)
		_, err := repo.ListByConversation(context.Background(), "conv-1", 10)
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "op=messages.list: scan"))
	})
}

func TestMessageRepo_CountByConversation(t *testing.T) {
	t.Parallel()

	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*int)) = 7
		return nil
	}}}
	repo := postgres.NewMessageRepo(pool)

	n, err := repo.CountByConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	pool.row = rowStub{scan: func(...any) error { return assert.AnError }}
	_, err = repo.CountByConversation(context.Background(), "conv-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=messages.count")
}

func TestMessageRepo_RecentConversations(t *testing.T) {
	t.Parallel()

	latest := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	long := strings.Repeat("An agent reply about pacing. ", 10)
	worker := "refiner"
	rows := &rowsStub{scans: []func(dest ...any) error{
		func(dest ...any) error {
			*(dest[0].(*string)) = "conv-1"
			*(dest[1].(**string)) = &worker
			*(dest[2].(*int64)) = 6
			*(dest[3].(*string)) = long
			*(dest[4].(*time.Time)) = latest
			return nil
		},
		func(dest ...any) error {
			*(dest[0].(*string)) = "conv-0"
			*(dest[1].(**string)) = nil
			*(dest[2].(*int64)) = 2
			*(dest[3].(*string)) = "short"
			*(dest[4].(*time.Time)) = latest.Add(-time.Hour)
			return nil
		},
	}}
	pool := &poolStub{rows: rows}
	repo := postgres.NewMessageRepo(pool)

	sums, err := repo.RecentConversations(context.Background(), "proj-1", 0)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	assert.Equal(t, "conv-1", sums[0].ConversationID)
	assert.Equal(t, domain.WorkerRefiner, sums[0].WorkerKind)
	assert.Equal(t, 6, sums[0].MessageCount)
	assert.Len(t, sums[0].LastMessageSnippet, 120)
	assert.Equal(t, latest, sums[0].Timestamp)

	// Conversations with no agent reply yet carry no worker kind.
	assert.Equal(t, domain.WorkerKind(""), sums[1].WorkerKind)
	assert.Equal(t, "short", sums[1].LastMessageSnippet)

	// limit <= 0 falls back to the default
	assert.Equal(t, []any{"proj-1", 10}, pool.queryArg[0])
}

func TestMessageRepo_RecentConversations_QueryError(t *testing.T) {
	t.Parallel()

	pool := &poolStub{queryErr: assert.AnError}
	repo := postgres.NewMessageRepo(pool)

	_, err := repo.RecentConversations(context.Background(), "proj-1", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=messages.recent_conversations")
}
