package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a policy can be served after an update made
// by another process that could not invalidate the entry.
const DefaultTTL = 5 * time.Minute

var errStaleWrite = errors.New("cached policy is newer")

// RedisCache implements PolicyCache on Redis. Entries expire after the base
// TTL plus up to a minute of jitter so keys written together do not expire
// together.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

// NewRedisCache creates a RedisCache. A zero ttl selects DefaultTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, baseTTL: ttl}
}

func (r *RedisCache) Get(ctx context.Context, sessionID string) (*domain.PricingPolicy, error) {
	data, err := r.client.Get(ctx, cacheKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var policy domain.PricingPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("unmarshal policy failed: %w", err)
	}
	return &policy, nil
}

// Set stores policy unless the cached entry is newer, so a read that
// raced with an update cannot put the old policy back.
func (r *RedisCache) Set(ctx context.Context, policy *domain.PricingPolicy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshal policy failed: %w", err)
	}

	key := cacheKey(policy.SessionID)
	jitter := time.Duration(rand.Int64N(int64(time.Minute)))

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cached domain.PricingPolicy
			if json.Unmarshal(current, &cached) == nil && cached.UpdatedAt.After(policy.UpdatedAt) {
				return errStaleWrite
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.baseTTL+jitter)
			return nil
		})
		return err
	}, key)

	// Losing the race to a concurrent writer means a fresher entry is there.
	if errors.Is(err, errStaleWrite) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, cacheKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(sessionID string) string {
	return fmt.Sprintf("pricing:policy:%s", sessionID)
}
