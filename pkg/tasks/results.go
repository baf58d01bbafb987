package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ethpandaops/strata/pkg/orchestrator"
)

// resultTTL keeps run outcomes around long enough for the coordinator's
// barrier and post-run inspection
const resultTTL = 24 * time.Hour

// ResultStore persists per-table outcomes so the coordinator can barrier on
// worker completion without talking to the workers directly
type ResultStore struct {
	redisClient *redis.Client
	keyPrefix   string
}

// NewResultStore creates a Redis-backed result store
func NewResultStore(redisClient *redis.Client) *ResultStore {
	return &ResultStore{
		redisClient: redisClient,
		keyPrefix:   "strata:run:",
	}
}

func (s *ResultStore) tableKey(runID, table string) string {
	return fmt.Sprintf("%s%s:table:%s", s.keyPrefix, runID, table)
}

// SetTable records one table's outcome for a run
func (s *ResultStore) SetTable(ctx context.Context, runID, table string, result *orchestrator.TableResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.redisClient.Set(ctx, s.tableKey(runID, table), data, resultTTL).Err()
}

// GetTable returns one table's outcome. ok=false while the worker is still
// running.
func (s *ResultStore) GetTable(ctx context.Context, runID, table string) (*orchestrator.TableResult, bool, error) {
	data, err := s.redisClient.Get(ctx, s.tableKey(runID, table)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, err
	}

	var result orchestrator.TableResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, false, err
	}

	return &result, true, nil
}
