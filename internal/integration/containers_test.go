//go:build integration

// Package integration runs the storage adapters against real Postgres and
// Redis containers. Excluded from the default test run; build with
// -tags integration and a working Docker socket.
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for the SQL wait strategy
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/cache/rediscache"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	dsn := func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://orchestrator:orchestrator@%s:%s/orchestrator?sslmode=disable", host, port.Port())
	}
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "orchestrator",
			"POSTGRES_PASSWORD": "orchestrator",
			"POSTGRES_DB":       "orchestrator",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", dsn).WithStartupTimeout(90 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return dsn(host, port)
}

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisC.Terminate(context.Background()) })

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func applySchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_init.sql"))
	require.NoError(t, err)
	// The migration is a multi-statement script; prepared statements take
	// exactly one, so force the simple protocol for this call.
	_, err = pool.Exec(context.Background(), string(schema), pgx.QueryExecModeSimpleProtocol)
	require.NoError(t, err)
}

func TestPostgresAdapters(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	applySchema(t, pool)

	t.Run("ledger records and aggregates spend", func(t *testing.T) {
		repo := postgres.NewLedgerRepo(pool)
		now := time.Now().UTC()

		entries := []domain.LedgerEntry{
			{UserID: "user-1", WorkerKind: domain.WorkerIdeation, Model: "gpt-4o-mini", PromptTokens: 100, CompletionTokens: 40, CostUSD: 0.5, RequestID: "req-1"},
			{UserID: "user-1", WorkerKind: domain.WorkerRefiner, Model: "gpt-4o-mini", PromptTokens: 200, CompletionTokens: 80, CostUSD: 0.25, RequestID: "req-2"},
			{UserID: "user-1", WorkerKind: domain.WorkerIdeation, Model: "gpt-4o", PromptTokens: 50, CompletionTokens: 20, CostUSD: 5, RequestID: "req-0", CreatedAt: now.AddDate(0, 0, -40)},
			{UserID: "user-2", WorkerKind: domain.WorkerMedia, Model: "gpt-4o-mini", CostUSD: 99, RequestID: "req-x"},
		}
		for _, e := range entries {
			require.NoError(t, repo.Insert(ctx, e))
		}

		spend, err := repo.SpendSince(ctx, "user-1", now.AddDate(0, 0, -30))
		require.NoError(t, err)
		assert.InDelta(t, 0.75, spend, 1e-9, "the 40-day-old entry must fall outside the window")

		all, err := repo.Aggregate(ctx, "user-1", domain.StatsFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), all.Total.Requests)
		assert.InDelta(t, 5.75, all.Total.CostUSD, 1e-9)
		assert.Equal(t, int64(2), all.ByWorker[domain.WorkerIdeation].Requests)
		assert.Equal(t, int64(2), all.ByModel["gpt-4o-mini"].Requests)

		recent, err := repo.Aggregate(ctx, "user-1", domain.StatsFilter{From: now.Add(-time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, int64(2), recent.Total.Requests, "From filter must exclude the old entry")

		ideationOnly, err := repo.Aggregate(ctx, "user-1", domain.StatsFilter{WorkerKind: domain.WorkerIdeation})
		require.NoError(t, err)
		assert.Equal(t, int64(2), ideationOnly.Total.Requests)
		assert.Empty(t, ideationOnly.ByWorker[domain.WorkerRefiner])
	})

	t.Run("message pairs are idempotent on redelivery", func(t *testing.T) {
		repo := postgres.NewMessageRepo(pool)
		now := time.Now().UTC()

		user := domain.Message{
			ID: "msg-u1", ConversationID: "conv-1", ProjectID: "proj-1", UserID: "user-1",
			Role: domain.RoleUser, Content: "please review my draft", CreatedAt: now,
		}
		agent := domain.Message{
			ID: "msg-a1", ConversationID: "conv-1", ProjectID: "proj-1", UserID: "user-1",
			Role: domain.RoleAgent, WorkerKind: domain.WorkerRefiner,
			Content: "here is a tightened version", CreatedAt: now.Add(time.Millisecond),
		}

		require.NoError(t, repo.InsertPair(ctx, user, agent))
		// Redelivered event: same ids must not duplicate rows.
		require.NoError(t, repo.InsertPair(ctx, user, agent))

		count, err := repo.CountByConversation(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		msgs, err := repo.ListByConversation(ctx, "conv-1", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, domain.RoleUser, msgs[0].Role)
		assert.Equal(t, domain.RoleAgent, msgs[1].Role)
		assert.Equal(t, domain.WorkerRefiner, msgs[1].WorkerKind)

		sums, err := repo.RecentConversations(ctx, "proj-1", 5)
		require.NoError(t, err)
		require.Len(t, sums, 1)
		assert.Equal(t, "conv-1", sums[0].ConversationID)
		assert.Equal(t, 2, sums[0].MessageCount)
		assert.Equal(t, domain.WorkerRefiner, sums[0].WorkerKind)
		assert.Contains(t, sums[0].LastMessageSnippet, "tightened")
	})

	t.Run("context entries round-trip and expire", func(t *testing.T) {
		repo := postgres.NewContextRepo(pool)
		key := domain.ContextKey("proj-1", "conv-1")

		value := domain.EnrichedContext{ProjectID: "proj-1", ConversationID: "conv-1"}
		require.NoError(t, repo.SaveContext(ctx, key, value, time.Now().Add(time.Hour)))

		got, err := repo.LoadContext(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "proj-1", got.ProjectID)
		assert.Equal(t, "conv-1", got.ConversationID)

		expiredKey := domain.ContextKey("proj-1", "conv-expired")
		require.NoError(t, repo.SaveContext(ctx, expiredKey, value, time.Now().Add(-time.Minute)))

		_, err = repo.LoadContext(ctx, expiredKey)
		assert.ErrorIs(t, err, domain.ErrNotFound, "expired entries must read as absent")

		pruned, err := repo.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pruned, int64(1))

		require.NoError(t, repo.DeleteContext(ctx, key))
		require.NoError(t, repo.DeleteContext(ctx, "never-existed"))
	})

	t.Run("project read models", func(t *testing.T) {
		seed := []string{
			`INSERT INTO projects (id, user_id, status, content) VALUES ('proj-42','user-1','active','a long essay draft')`,
			`INSERT INTO project_phases (id, project_id, kind, status, outputs) VALUES ('ph-1','proj-42','ideation','completed','{"ideas":["angle one"]}')`,
			`INSERT INTO user_preferences (user_id, personality, genres, experience) VALUES ('user-1','formal','["essay","fiction"]','advanced')`,
			`INSERT INTO style_guides (project_id, reference_writers, tone, target_audience) VALUES ('proj-42','["orwell"]','direct','general readers')`,
		}
		for _, q := range seed {
			_, err := pool.Exec(ctx, q)
			require.NoError(t, err)
		}

		repo := postgres.NewProjectRepo(pool)

		p, err := repo.Get(ctx, "proj-42")
		require.NoError(t, err)
		assert.Equal(t, "user-1", p.UserID)
		assert.Equal(t, "active", p.Status)
		require.Len(t, p.Phases, 1)
		assert.Equal(t, domain.WorkerIdeation, p.Phases[0].Kind)

		_, err = repo.Get(ctx, "proj-missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		prefs, err := repo.Preferences(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "formal", prefs.Personality)
		assert.Equal(t, []string{"essay", "fiction"}, prefs.Genres)

		fallback, err := repo.Preferences(ctx, "user-unknown")
		require.NoError(t, err)
		assert.Equal(t, "casual", fallback.Personality)
		assert.Equal(t, "intermediate", fallback.Experience)

		sg, err := repo.StyleGuide(ctx, "proj-42")
		require.NoError(t, err)
		require.NotNil(t, sg)
		assert.Equal(t, "direct", sg.Tone)

		none, err := repo.StyleGuide(ctx, "proj-missing")
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestRedisCaches(t *testing.T) {
	ctx := context.Background()
	addr := startRedis(t)

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	t.Run("response cache honors TTL", func(t *testing.T) {
		cache := rediscache.NewResponseCache(rdb)

		resp := &domain.Response{
			Content:  "Three angles for the piece.",
			Metadata: domain.ResponseMetadata{Model: "gpt-4o-mini", Confidence: 0.8},
		}
		cache.Set(ctx, "resp-key", resp, time.Hour)

		got, ok := cache.Get(ctx, "resp-key")
		require.True(t, ok)
		assert.Equal(t, resp.Content, got.Content)
		assert.Equal(t, "gpt-4o-mini", got.Metadata.Model)

		_, ok = cache.Get(ctx, "unknown-key")
		assert.False(t, ok)

		cache.Set(ctx, "short-key", resp, 100*time.Millisecond)
		assert.Eventually(t, func() bool {
			_, ok := cache.Get(ctx, "short-key")
			return !ok
		}, 5*time.Second, 50*time.Millisecond, "entry must vanish after its TTL")
	})

	t.Run("fact cache round-trips verdicts", func(t *testing.T) {
		cache := rediscache.NewFactCache(rdb, time.Hour)

		result := &domain.FactCheckResult{
			ClaimID:    "claim-1",
			Status:     domain.FactVerified,
			Confidence: 0.92,
		}
		cache.Set(ctx, "The GDP grew 3.2% in 2023.", result)

		got, ok := cache.Get(ctx, "The GDP grew 3.2% in 2023.")
		require.True(t, ok)
		assert.Equal(t, domain.FactVerified, got.Status)
		assert.InDelta(t, 0.92, got.Confidence, 1e-9)

		_, ok = cache.Get(ctx, "An entirely different claim.")
		assert.False(t, ok)
	})
}
