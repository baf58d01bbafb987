package extractor_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/strata/internal/testutil"
	"github.com/ethpandaops/strata/pkg/extractor"
	"github.com/ethpandaops/strata/pkg/objectstore"
	"github.com/ethpandaops/strata/pkg/retry"
	"github.com/ethpandaops/strata/pkg/tables"
	"github.com/ethpandaops/strata/pkg/watermark"
)

func salesConfig() *tables.TableConfig {
	return &tables.TableConfig{
		Name:              "sales",
		PrimaryKeyColumns: []string{"sale_id"},
		IncrementalColumn: "created_at",
		BatchSize:         2,
	}
}

func setup(t *testing.T) (*extractor.Extractor, *testutil.MemoryStore, watermark.Store) {
	t.Helper()

	_, client := testutil.NewMiniredisClient(t)
	watermarks := watermark.NewRedisStore(logrus.New(), client)
	store := testutil.NewMemoryStore()

	return extractor.NewExtractor(logrus.New(), store, watermarks), store, watermarks
}

func TestExtractor_RequiresIncrementalColumn(t *testing.T) {
	ext, _, _ := setup(t)

	config := &tables.TableConfig{
		Name:              "products",
		PrimaryKeyColumns: []string{"product_id"},
		BatchSize:         100,
	}

	_, err := ext.Extract(context.Background(), "raw/products/2024/01/03", config)
	assert.ErrorIs(t, err, extractor.ErrIncrementalColumnNotSet)
	assert.True(t, retry.IsPermanent(err), "misconfiguration must not be retried")
}

func TestExtractor_FiltersBeyondWatermark(t *testing.T) {
	ext, store, watermarks := setup(t)
	ctx := context.Background()

	require.NoError(t, watermarks.Set(ctx, "sales", "created_at", "2024-01-01"))

	store.PutRows("raw/sales/2024/01/03", []objectstore.Row{
		{"sale_id": "s1", "created_at": "2024-01-02"},
		{"sale_id": "s2", "created_at": "2024-01-03"},
		{"sale_id": "s3", "created_at": "2023-12-31"}, // behind the watermark
	})

	extraction, err := ext.Extract(ctx, "raw/sales/2024/01/03", salesConfig())
	require.NoError(t, err)

	require.Equal(t, 2, extraction.Dataset.Len())
	assert.Equal(t, "s1", extraction.Dataset.Rows[0]["sale_id"])
	assert.Equal(t, "s2", extraction.Dataset.Rows[1]["sale_id"])
	assert.Equal(t, "2024-01-01", extraction.Since)
	assert.Equal(t, "2024-01-03", extraction.NextWatermark)
}

func TestExtractor_FirstRunUsesSentinel(t *testing.T) {
	ext, store, _ := setup(t)

	store.PutRows("raw/sales/2024/01/03", []objectstore.Row{
		{"sale_id": "s1", "created_at": "2023-12-31"},
	})

	extraction, err := ext.Extract(context.Background(), "raw/sales/2024/01/03", salesConfig())
	require.NoError(t, err)

	assert.Equal(t, watermark.Sentinel, extraction.Since)
	assert.Equal(t, 1, extraction.Dataset.Len(), "everything is new on first run")
}

func TestExtractor_EmptyExtractionIsNotAnError(t *testing.T) {
	ext, store, watermarks := setup(t)
	ctx := context.Background()

	require.NoError(t, watermarks.Set(ctx, "sales", "created_at", "2024-06-01"))

	store.PutRows("raw/sales/2024/01/03", []objectstore.Row{
		{"sale_id": "s1", "created_at": "2024-01-02"},
	})

	extraction, err := ext.Extract(ctx, "raw/sales/2024/01/03", salesConfig())
	require.NoError(t, err)

	assert.True(t, extraction.Dataset.IsEmpty())
	assert.Empty(t, extraction.NextWatermark)
}

func TestExtractor_DoesNotAdvanceWatermark(t *testing.T) {
	// A crash after extraction but before the caller advances the watermark
	// must not lose data: re-running returns the same rows
	ext, store, watermarks := setup(t)
	ctx := context.Background()

	require.NoError(t, watermarks.Set(ctx, "sales", "created_at", "2024-01-01"))

	store.PutRows("raw/sales/2024/01/03", []objectstore.Row{
		{"sale_id": "s1", "created_at": "2024-01-02"},
	})

	first, err := ext.Extract(ctx, "raw/sales/2024/01/03", salesConfig())
	require.NoError(t, err)
	require.Equal(t, 1, first.Dataset.Len())

	second, err := ext.Extract(ctx, "raw/sales/2024/01/03", salesConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Dataset.Len(), "extraction alone must not move the cursor")
}

func TestExtractor_RowsMissingIncrementalColumnAreSkipped(t *testing.T) {
	ext, store, _ := setup(t)

	store.PutRows("raw/sales/2024/01/03", []objectstore.Row{
		{"sale_id": "s1", "created_at": "2024-01-02"},
		{"sale_id": "s2"},
		{"sale_id": "s3", "created_at": nil},
	})

	extraction, err := ext.Extract(context.Background(), "raw/sales/2024/01/03", salesConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, extraction.Dataset.Len())
}

func TestExtractor_NumericWatermarks(t *testing.T) {
	ext, store, watermarks := setup(t)
	ctx := context.Background()

	require.NoError(t, watermarks.Set(ctx, "sales", "created_at", "100"))

	store.PutRows("raw/sales/2024/01/03", []objectstore.Row{
		{"sale_id": "s1", "created_at": float64(99)},
		{"sale_id": "s2", "created_at": float64(101)},
		{"sale_id": "s3", "created_at": float64(205)},
	})

	extraction, err := ext.Extract(ctx, "raw/sales/2024/01/03", salesConfig())
	require.NoError(t, err)

	assert.Equal(t, 2, extraction.Dataset.Len())
	assert.Equal(t, "205", extraction.NextWatermark)
}

func TestExtractor_FirstRunNumericCursors(t *testing.T) {
	// With no stored watermark, numeric cursor values must all count as new
	ext, store, _ := setup(t)

	store.PutRows("raw/sales/2024/01/03", []objectstore.Row{
		{"sale_id": "s1", "created_at": float64(1704067200)},
		{"sale_id": "s2", "created_at": float64(1704153600)},
	})

	extraction, err := ext.Extract(context.Background(), "raw/sales/2024/01/03", salesConfig())
	require.NoError(t, err)

	assert.Equal(t, watermark.Sentinel, extraction.Since)
	assert.Equal(t, 2, extraction.Dataset.Len())
	assert.Equal(t, "1704153600", extraction.NextWatermark)
}
