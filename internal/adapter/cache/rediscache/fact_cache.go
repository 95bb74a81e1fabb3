package rediscache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

const factKeyPrefix = "fact:"

// FactCache memoizes verification verdicts by claim text so repeated
// claims skip the search providers entirely.
type FactCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFactCache constructs the cache. ttl bounds how long a verdict is
// trusted before the claim is re-verified.
func NewFactCache(rdb *redis.Client, ttl time.Duration) *FactCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &FactCache{rdb: rdb, ttl: ttl}
}

// claimKey normalizes the claim text before hashing, so trivial
// whitespace and case differences still hit.
func claimKey(claimText string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(claimText)), " ")
	h := sha256.Sum256([]byte(normalized))
	return factKeyPrefix + hex.EncodeToString(h[:])
}

// Get implements domain.FactCache.
func (c *FactCache) Get(ctx domain.Context, claimText string) (*domain.FactCheckResult, bool) {
	raw, err := c.rdb.Get(ctx, claimKey(claimText)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("fact cache read failed", slog.Any("error", err))
		}
		return nil, false
	}

	var result domain.FactCheckResult
	if err := json.Unmarshal(raw, &result); err != nil {
		slog.Warn("fact cache entry corrupt, dropping", slog.Any("error", err))
		c.rdb.Del(ctx, claimKey(claimText))
		return nil, false
	}
	return &result, true
}

// Set implements domain.FactCache. Fire-and-forget.
func (c *FactCache) Set(ctx domain.Context, claimText string, result *domain.FactCheckResult) {
	if result == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		slog.Warn("fact cache marshal failed", slog.Any("error", err))
		return
	}
	if err := c.rdb.Set(ctx, claimKey(claimText), raw, c.ttl).Err(); err != nil {
		slog.Warn("fact cache write failed", slog.Any("error", err))
	}
}
