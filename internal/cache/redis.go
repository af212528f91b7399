package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pageza/foodlens/backend/internal/models"
)

// RedisStore keeps results as JSON under prefix:fingerprint with a native TTL
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "analysis"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(fingerprint string) string {
	return fmt.Sprintf("%s:%s", s.prefix, fingerprint)
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*models.AnalysisResult, time.Duration, error) {
	key := s.key(fingerprint)

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, 0, ErrMiss
		}
		return nil, 0, fmt.Errorf("failed to read %s: %w", key, err)
	}

	ttl := ttlCmd.Val()
	if ttl <= 0 {
		// Key without expiry or gone between the two commands.
		return nil, 0, ErrMiss
	}

	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(getCmd.Val()), &result); err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return &result, ttl, nil
}

// Set implements Store
func (s *RedisStore) Set(ctx context.Context, fingerprint string, result *models.AnalysisResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := s.client.Set(ctx, s.key(fingerprint), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.key(fingerprint), err)
	}
	return nil
}
