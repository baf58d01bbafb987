package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheTTL bounds how long a memoized result outlives its run
const cacheTTL = 24 * time.Hour

// Cache stores successful step results keyed by fingerprint, scoped to a
// single run. Distinct fingerprints may be read and written concurrently
// without coordination.
type Cache struct {
	redisClient *redis.Client
	keyPrefix   string
}

// NewCache creates a fingerprint cache scoped to the given run
func NewCache(redisClient *redis.Client, runID string) *Cache {
	return &Cache{
		redisClient: redisClient,
		keyPrefix:   fmt.Sprintf("strata:fingerprint:%s:", runID),
	}
}

// Get retrieves a memoized result. ok=false on cache miss.
func (c *Cache) Get(ctx context.Context, fp string, dest interface{}) (bool, error) {
	data, err := c.redisClient.Get(ctx, c.keyPrefix+fp).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}

		return false, err
	}

	if dest == nil {
		return true, nil
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, err
	}

	return true, nil
}

// Set memoizes a successful result under its fingerprint
func (c *Cache) Set(ctx context.Context, fp string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return c.redisClient.Set(ctx, c.keyPrefix+fp, data, cacheTTL).Err()
}

// Memoize returns the cached result for fp if present, otherwise executes
// fn once and caches its result. Failed executions are not cached, so a
// retried step runs again.
func Memoize[T any](ctx context.Context, cache *Cache, fp string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var cached T

	if cache != nil {
		hit, err := cache.Get(ctx, fp, &cached)
		if err != nil {
			return cached, false, err
		}

		if hit {
			return cached, true, nil
		}
	}

	result, err := fn(ctx)
	if err != nil {
		return result, false, err
	}

	if cache != nil {
		if err := cache.Set(ctx, fp, result); err != nil {
			return result, false, err
		}
	}

	return result, false, nil
}
