package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/layer-3/sessionauth/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of RateLimitStore.
// Each (alias, salt, window) is a sorted set of request timestamps in milliseconds.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "sessionauth:ratelimit:",
		now:    time.Now,
	}
}

var _ ports.RateLimitStore = (*RedisStore)(nil)

// RecordAndCount adds the request to the window and returns the window size in one transaction
func (s *RedisStore) RecordAndCount(ctx context.Context, salt common.Hash, alias string, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, fmt.Errorf("invalid rate limit window %s", window)
	}

	key := s.prefix + rateLimitKey(salt, alias, window)
	now := s.now().UnixMilli()
	cut := now - window.Milliseconds()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cut, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to record rate limit: %w", err)
	}

	return int(card.Val()), nil
}
