package coordinator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/strata/internal/testutil"
	"github.com/ethpandaops/strata/pkg/coordinator"
	"github.com/ethpandaops/strata/pkg/orchestrator"
	"github.com/ethpandaops/strata/pkg/retry"
	"github.com/ethpandaops/strata/pkg/tables"
	"github.com/ethpandaops/strata/pkg/tasks"
)

var runDate = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

// fakeQueue acts as an instant worker: each enqueued table task immediately
// reports the scripted status
type fakeQueue struct {
	mu       sync.Mutex
	results  *tasks.ResultStore
	statuses map[string]orchestrator.Status
	tables   []tasks.TablePayload
	models   []tasks.ModelPayload
	silent   map[string]bool // tables that never report
}

func newFakeQueue(results *tasks.ResultStore) *fakeQueue {
	return &fakeQueue{
		results:  results,
		statuses: make(map[string]orchestrator.Status),
		silent:   make(map[string]bool),
	}
}

func (q *fakeQueue) EnqueueTable(payload tasks.TablePayload, _ ...asynq.Option) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tables = append(q.tables, payload)

	if q.silent[payload.Table] {
		return nil
	}

	status, ok := q.statuses[payload.Table]
	if !ok {
		status = orchestrator.StatusDone
	}

	return q.results.SetTable(context.Background(), payload.RunID, payload.Table, &orchestrator.TableResult{Status: status})
}

func (q *fakeQueue) EnqueueModelBuild(payload tasks.ModelPayload, _ ...asynq.Option) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.models = append(q.models, payload)

	return nil
}

func testConfig() *coordinator.Config {
	return &coordinator.Config{
		Interval:          time.Hour,
		CompletionTimeout: 500 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
	}
}

func tablesConfig(withModel bool) *tables.Config {
	cfg := &tables.Config{
		Tables: []tables.TableConfig{
			{Name: "sales", PrimaryKeyColumns: []string{"sale_id"}, BatchSize: 10},
			{Name: "products", PrimaryKeyColumns: []string{"product_id"}, BatchSize: 10},
		},
	}

	if withModel {
		cfg.Model = tables.ModelConfig{
			Dimensions: []tables.DimensionConfig{
				{Name: "products", Transform: "INSERT INTO {{ .self.table }} SELECT 1"},
			},
		}
	}

	return cfg
}

func newService(t *testing.T, cfg *tables.Config) (coordinator.Service, *fakeQueue, *testutil.FakeWarehouse) {
	t.Helper()

	_, redisClient := testutil.NewMiniredisClient(t)
	results := tasks.NewResultStore(redisClient)
	queue := newFakeQueue(results)
	warehouse := testutil.NewFakeWarehouse()

	svc, err := coordinator.NewService(logrus.New(), testConfig(), cfg, queue, results, warehouse,
		coordinator.WithRetryPolicy(retry.Policy{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}))
	require.NoError(t, err)

	return svc, queue, warehouse
}

func TestRunOnce_FanOutAndBarrier(t *testing.T) {
	svc, queue, _ := newService(t, tablesConfig(true))

	summary, err := svc.RunOnce(context.Background(), runDate)
	require.NoError(t, err)

	require.Len(t, queue.tables, 2, "one task per table")
	assert.Equal(t, orchestrator.StatusDone, summary.Tables["sales"])
	assert.Equal(t, orchestrator.StatusDone, summary.Tables["products"])

	require.Len(t, queue.models, 1, "model build queued after the barrier")
	assert.True(t, summary.ModelQueued)
	assert.Equal(t, summary.RunID, queue.models[0].RunID)
}

func TestRunOnce_ModelSkippedWhenNothingLoaded(t *testing.T) {
	svc, queue, _ := newService(t, tablesConfig(true))

	queue.statuses["sales"] = orchestrator.StatusFailed
	queue.statuses["products"] = orchestrator.StatusFailed

	summary, err := svc.RunOnce(context.Background(), runDate)
	require.NoError(t, err)

	assert.True(t, summary.ModelSkipped)
	assert.Empty(t, queue.models)
}

func TestRunOnce_PartialFailureStillBuildsModel(t *testing.T) {
	svc, queue, _ := newService(t, tablesConfig(true))

	queue.statuses["sales"] = orchestrator.StatusFailed

	summary, err := svc.RunOnce(context.Background(), runDate)
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StatusFailed, summary.Tables["sales"])
	assert.True(t, summary.ModelQueued, "one surviving table is enough")
}

func TestRunOnce_CompletionTimeout(t *testing.T) {
	svc, queue, _ := newService(t, tablesConfig(false))

	queue.silent["products"] = true

	summary, err := svc.RunOnce(context.Background(), runDate)
	require.ErrorIs(t, err, coordinator.ErrCompletionTimeout)

	assert.Equal(t, orchestrator.StatusDone, summary.Tables["sales"], "settled tables are still reported")
	_, ok := summary.Tables["products"]
	assert.False(t, ok)
}

func TestRunOnce_SchemaBootstrapPrecedesFanOut(t *testing.T) {
	cfg := tablesConfig(false)
	cfg.Schema.Raw = []string{"CREATE TABLE IF NOT EXISTS raw.sales (sale_id String)"}

	svc, queue, warehouse := newService(t, cfg)

	_, err := svc.RunOnce(context.Background(), runDate)
	require.NoError(t, err)

	executes := warehouse.CallsOfKind("execute")
	require.Len(t, executes, 1)
	assert.Contains(t, executes[0].Query, "CREATE TABLE")
	assert.Len(t, queue.tables, 2)
}

func TestRunOnce_FreshRunIDPerRun(t *testing.T) {
	svc, _, _ := newService(t, tablesConfig(false))

	first, err := svc.RunOnce(context.Background(), runDate)
	require.NoError(t, err)

	second, err := svc.RunOnce(context.Background(), runDate)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestNewService_RejectsInvalidTables(t *testing.T) {
	_, redisClient := testutil.NewMiniredisClient(t)
	results := tasks.NewResultStore(redisClient)

	_, err := coordinator.NewService(logrus.New(), testConfig(), &tables.Config{}, newFakeQueue(results), results, testutil.NewFakeWarehouse())
	assert.ErrorIs(t, err, tables.ErrNoTables)
}
