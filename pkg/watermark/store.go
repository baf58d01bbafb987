// Package watermark persists the last-processed incremental cursor per table
package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Sentinel is the first-run watermark: the Unix epoch. Every real
// incremental value is expected to sort after it.
const Sentinel = "1970-01-01T00:00:00Z"

// Static errors
var (
	ErrLockNotHeld = errors.New("watermark lock not held")
)

const lockTTL = 60 * time.Second

// Watermark is the highest incremental-column value successfully processed
// for a table
type Watermark struct {
	Table     string    `json:"table"`
	Column    string    `json:"column"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines watermark persistence. Set must be durable before it
// returns.
type Store interface {
	// Get returns the stored watermark, or ok=false on first run
	Get(ctx context.Context, table, column string) (Watermark, bool, error)

	// Set records a new watermark value
	Set(ctx context.Context, table, column, value string) error

	// WithTableLock serializes read-then-write access to one table's
	// watermark across concurrent units
	WithTableLock(ctx context.Context, table string, fn func(ctx context.Context) error) error
}

// RedisStore is a Redis-backed watermark store
type RedisStore struct {
	log         logrus.FieldLogger
	redisClient *redis.Client
	keyPrefix   string
}

// NewRedisStore creates a Redis-backed watermark store
func NewRedisStore(logger logrus.FieldLogger, redisClient *redis.Client) *RedisStore {
	return &RedisStore{
		log:         logger.WithField("component", "watermark"),
		redisClient: redisClient,
		keyPrefix:   "strata:watermark:",
	}
}

func (s *RedisStore) key(table, column string) string {
	return fmt.Sprintf("%s%s:%s", s.keyPrefix, table, column)
}

func (s *RedisStore) lockKey(table string) string {
	return fmt.Sprintf("%s%s:lock", s.keyPrefix, table)
}

// Get retrieves the stored watermark for (table, column)
func (s *RedisStore) Get(ctx context.Context, table, column string) (Watermark, bool, error) {
	data, err := s.redisClient.Get(ctx, s.key(table, column)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Watermark{}, false, nil
		}

		return Watermark{}, false, err
	}

	var w Watermark
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return Watermark{}, false, err
	}

	return w, true, nil
}

// Set stores the watermark without expiry. Durability is delegated to the
// Redis deployment (AOF or replica), matching how completion tracking is
// persisted elsewhere in the pipeline.
func (s *RedisStore) Set(ctx context.Context, table, column, value string) error {
	w := Watermark{
		Table:     table,
		Column:    column,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(w)
	if err != nil {
		return err
	}

	if err := s.redisClient.Set(ctx, s.key(table, column), data, 0).Err(); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"table":  table,
		"column": column,
		"value":  value,
	}).Debug("Watermark advanced")

	return nil
}

// unlockScript releases a lock only if the caller still holds it
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// WithTableLock acquires the per-table advisory lock, runs fn, and releases
// the lock. Acquisition polls until the context is done.
func (s *RedisStore) WithTableLock(ctx context.Context, table string, fn func(ctx context.Context) error) error {
	key := s.lockKey(table)
	token := uuid.NewString()

	for {
		acquired, err := s.redisClient.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire watermark lock: %w", err)
		}

		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	defer func() {
		released, err := unlockScript.Run(context.WithoutCancel(ctx), s.redisClient, []string{key}, token).Int()
		if err != nil {
			s.log.WithError(err).WithField("table", table).Warn("Failed to release watermark lock")
			return
		}

		if released == 0 {
			s.log.WithField("table", table).Warn("Watermark lock expired before release")
		}
	}()

	return fn(ctx)
}
