package loader_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/strata/internal/testutil"
	"github.com/ethpandaops/strata/pkg/clickhouse"
	"github.com/ethpandaops/strata/pkg/loader"
	"github.com/ethpandaops/strata/pkg/objectstore"
	"github.com/ethpandaops/strata/pkg/tables"
)

func rowsOf(n int) []objectstore.Row {
	rows := make([]objectstore.Row, n)
	for i := range rows {
		rows[i] = objectstore.Row{"id": fmt.Sprintf("r%d", i), "seq": i}
	}

	return rows
}

func config(batchSize int) *tables.TableConfig {
	return &tables.TableConfig{
		Name:              "products",
		PrimaryKeyColumns: []string{"id"},
		BatchSize:         batchSize,
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name     string
		rows     int
		size     int
		expected []int // chunk lengths
	}{
		{"even split", 10, 5, []int{5, 5}},
		{"uneven split", 7, 3, []int{3, 3, 1}},
		{"single chunk", 3, 50, []int{3}},
		{"chunk per row", 3, 1, []int{1, 1, 1}},
		{"empty", 0, 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := loader.Chunk(rowsOf(tt.rows), tt.size)

			require.Len(t, chunks, len(tt.expected))

			// Concatenation reproduces the input exactly
			seq := 0
			for i, chunk := range chunks {
				assert.Len(t, chunk, tt.expected[i])
				for _, row := range chunk {
					assert.Equal(t, seq, row["seq"])
					seq++
				}
			}
			assert.Equal(t, tt.rows, seq)
		})
	}
}

func TestLoader_Load_ChunksAndUpserts(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()
	l := loader.NewLoader(logrus.New(), warehouse, "raw")

	ds := &objectstore.Dataset{Rows: rowsOf(7)}

	metrics, err := l.Load(context.Background(), ds, config(3))
	require.NoError(t, err)

	assert.Equal(t, loader.Metrics{Processed: 7, Errors: 0}, metrics)

	upserts := warehouse.CallsOfKind("upsert")
	require.Len(t, upserts, 3, "ceil(7/3) chunks")
	assert.Equal(t, "raw.products", upserts[0].Table)
	assert.Equal(t, 3, upserts[0].Rows)
	assert.Equal(t, 1, upserts[2].Rows)
}

func TestLoader_Load_EmptyDatasetIsNoop(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()
	l := loader.NewLoader(logrus.New(), warehouse, "raw")

	metrics, err := l.Load(context.Background(), &objectstore.Dataset{}, config(10))
	require.NoError(t, err)
	assert.Zero(t, metrics.Processed)
	assert.Empty(t, warehouse.Calls())
}

func TestLoader_Load_ChunkFailureDoesNotAbortRest(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()
	warehouse.FailTableTimes("raw.products", 1, assert.AnError)

	l := loader.NewLoader(logrus.New(), warehouse, "raw")

	metrics, err := l.Load(context.Background(), &objectstore.Dataset{Rows: rowsOf(6)}, config(2))

	var loadErr *loader.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "products", loadErr.Table)
	assert.Equal(t, 2, loadErr.FailedRows)
	assert.Equal(t, 0, loadErr.FailedChunk)

	assert.Equal(t, loader.Metrics{Processed: 4, Errors: 2}, metrics)
	assert.Len(t, warehouse.CallsOfKind("upsert"), 3, "remaining chunks still attempted")
}

func TestLoader_Load_UnusableConnectionAborts(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()
	warehouse.FailTableTimes("raw.products", -1, fmt.Errorf("wrapped: %w", clickhouse.ErrConnectionUnusable))

	l := loader.NewLoader(logrus.New(), warehouse, "raw")

	metrics, err := l.Load(context.Background(), &objectstore.Dataset{Rows: rowsOf(6)}, config(2))
	require.Error(t, err)

	assert.Equal(t, loader.Metrics{Processed: 0, Errors: 6}, metrics, "unattempted rows count as errored")
	assert.Len(t, warehouse.CallsOfKind("upsert"), 1, "no further chunks after connection failure")
}

func TestLoader_Load_StampsLoadTimestamp(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()
	l := loader.NewLoader(logrus.New(), warehouse, "raw")

	ds := &objectstore.Dataset{Rows: []objectstore.Row{{"id": "a"}}}

	_, err := l.Load(context.Background(), ds, config(10))
	require.NoError(t, err)

	// The caller's dataset must not be mutated in flight
	_, stamped := ds.Rows[0]["_etl_loaded_at"]
	assert.False(t, stamped)
}

func TestLoader_Load_AppliesTransform(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()

	l := loader.NewLoader(logrus.New(), warehouse, "raw", loader.WithTransform(func(row objectstore.Row) objectstore.Row {
		row["channel"] = "online"
		return row
	}))

	_, err := l.Load(context.Background(), &objectstore.Dataset{Rows: rowsOf(1)}, config(10))
	require.NoError(t, err)

	assert.Equal(t, 1, warehouse.UpsertedRows("raw.products"))
}

func TestLoader_LoadFromStore(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()
	store := testutil.NewMemoryStore()
	store.PutRows("raw/products/2024/01/03", rowsOf(5))

	l := loader.NewLoader(logrus.New(), warehouse, "raw")

	metrics, err := l.LoadFromStore(context.Background(), store, "raw/products/2024/01/03", config(2))
	require.NoError(t, err)

	assert.Equal(t, loader.Metrics{Processed: 5, Errors: 0}, metrics)
	assert.Len(t, warehouse.CallsOfKind("upsert"), 3)
}
