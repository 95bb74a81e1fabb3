// Package rediscache backs the advisory response and fact caches with
// Redis. Both caches absorb backend errors: a failed read is a miss, a
// failed write is logged and dropped, so Redis can disappear without
// failing a request.
package rediscache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

const responseKeyPrefix = "resp:"

// ResponseCache implements domain.ResponseCache over Redis.
type ResponseCache struct {
	rdb *redis.Client
}

// NewResponseCache constructs the cache over an existing client.
func NewResponseCache(rdb *redis.Client) *ResponseCache {
	return &ResponseCache{rdb: rdb}
}

// Fingerprint builds the content-addressed cache key for one dispatch.
// Identical inputs must collide and any semantic difference must not, so
// the key covers everything that shapes the provider call.
func Fingerprint(worker domain.WorkerKind, spec domain.CallSpec, userPrompt, contextDigest string) string {
	parts := []string{
		string(worker),
		spec.Model,
		spec.SystemPrompt,
		userPrompt,
		strconv.FormatFloat(spec.Temperature, 'f', -1, 64),
		strconv.Itoa(spec.MaxTokens),
		contextDigest,
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

// ContextDigest hashes the enriched-context fields that influence prompts,
// so context changes invalidate cached responses.
func ContextDigest(ec *domain.EnrichedContext) string {
	if ec == nil {
		return ""
	}
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%d",
		ec.ProjectID, ec.ConversationID, ec.ProjectContent, len(ec.ConversationHistory))
	for _, s := range ec.ConversationHistory {
		_, _ = fmt.Fprintf(h, "|%s:%d:%s", s.ConversationID, s.MessageCount, s.LastMessageSnippet)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get implements domain.ResponseCache.
func (c *ResponseCache) Get(ctx domain.Context, key string) (*domain.Response, bool) {
	raw, err := c.rdb.Get(ctx, responseKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("response cache read failed", slog.Any("error", err))
		}
		return nil, false
	}

	var resp domain.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		slog.Warn("response cache entry corrupt, dropping",
			slog.String("key", key), slog.Any("error", err))
		c.rdb.Del(ctx, responseKeyPrefix+key)
		return nil, false
	}
	return &resp, true
}

// Set implements domain.ResponseCache. Fire-and-forget: errors are logged.
func (c *ResponseCache) Set(ctx domain.Context, key string, value *domain.Response, ttl time.Duration) {
	if value == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		slog.Warn("response cache marshal failed", slog.Any("error", err))
		return
	}
	if err := c.rdb.Set(ctx, responseKeyPrefix+key, raw, ttl).Err(); err != nil {
		slog.Warn("response cache write failed", slog.Any("error", err))
	}
}
