package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/treatment-engine/internal/domain"
)

const (
	predictionKeyPrefix = "prediction:"
	patientKeysPrefix   = "patient_keys:"
)

// RedisTierClient is the distributed prediction cache tier backed by Redis.
// It tracks each patient's fingerprints in a set so per-patient
// invalidation does not require a keyspace scan.
type RedisTierClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// cachedRecommendation wraps a recommendation with cache metadata.
type cachedRecommendation struct {
	Data      *domain.Recommendation `json:"data"`
	CachedAt  time.Time              `json:"cached_at"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// NewRedisTier creates a Redis cache tier from configuration.
func NewRedisTier(config domain.CacheConfig) (*RedisTierClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisTierClient{
		redis:      client,
		defaultTTL: config.TTL,
	}, nil
}

// Get retrieves a cached recommendation by fingerprint.
func (c *RedisTierClient) Get(ctx context.Context, fingerprint string) (*domain.Recommendation, bool, error) {
	key := predictionKeyPrefix + fingerprint

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get prediction cache: %w", err)
	}

	var cached cachedRecommendation
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Data, true, nil
}

// Set caches a recommendation and records its key under the patient's set.
func (c *RedisTierClient) Set(ctx context.Context, fingerprint, patientID string, rec *domain.Recommendation, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	key := predictionKeyPrefix + fingerprint

	cached := cachedRecommendation{
		Data:      rec,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction cache data: %w", err)
	}

	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, key, jsonData, ttl)
	pipe.SAdd(ctx, patientKeysPrefix+patientID, key)
	pipe.Expire(ctx, patientKeysPrefix+patientID, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// InvalidatePatient removes all cached predictions for a patient.
func (c *RedisTierClient) InvalidatePatient(ctx context.Context, patientID string) error {
	setKey := patientKeysPrefix + patientID

	keys, err := c.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list patient cache keys: %w", err)
	}

	keys = append(keys, setKey)
	return c.redis.Del(ctx, keys...).Err()
}

// Flush removes all cached predictions.
func (c *RedisTierClient) Flush(ctx context.Context) error {
	for _, pattern := range []string{predictionKeyPrefix + "*", patientKeysPrefix + "*"} {
		keys, err := c.redis.Keys(ctx, pattern).Result()
		if err != nil {
			return fmt.Errorf("failed to get keys for pattern %s: %w", pattern, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks if the Redis connection is alive.
func (c *RedisTierClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisTierClient) Close() error {
	return c.redis.Close()
}
