package dimensional_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/strata/internal/testutil"
	"github.com/ethpandaops/strata/pkg/dimensional"
	"github.com/ethpandaops/strata/pkg/retry"
	"github.com/ethpandaops/strata/pkg/tables"
)

var runDate = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

// fastRetry keeps test retries quick on the real clock
func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	}
}

func starModel() *tables.ModelConfig {
	return &tables.ModelConfig{
		Dimensions: []tables.DimensionConfig{
			{Name: "customers", Transform: "INSERT INTO {{ .self.table }} SELECT DISTINCT customer_id FROM {{ .raw.database }}.raw_customers"},
			{Name: "products", Transform: "INSERT INTO {{ .self.table }} SELECT DISTINCT product_id FROM {{ .raw.database }}.raw_products"},
		},
		Fact: &tables.FactConfig{
			Name:      "sales",
			Transform: "INSERT INTO {{ .self.table }} SELECT * FROM {{ .raw.database }}.raw_sales",
		},
	}
}

func newBuilder(warehouse *testutil.FakeWarehouse) *dimensional.Builder {
	return dimensional.NewBuilder(logrus.New(), warehouse, "raw", "analytics",
		dimensional.WithRetryPolicy(fastRetry()))
}

func TestBuilder_FactLoadsAfterAllDimensions(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()
	b := newBuilder(warehouse)

	require.NoError(t, b.Build(context.Background(), starModel(), runDate))

	executes := warehouse.CallsOfKind("execute")
	require.Len(t, executes, 3)

	// The fact insert must be the last statement executed
	assert.Contains(t, executes[2].Query, "analytics.fact_sales")

	for _, e := range executes[:2] {
		assert.Contains(t, e.Query, "analytics.dim_")
	}
}

func TestBuilder_TruncatesBeforeLoading(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()
	b := newBuilder(warehouse)

	require.NoError(t, b.Build(context.Background(), starModel(), runDate))

	truncates := warehouse.CallsOfKind("truncate")
	require.Len(t, truncates, 3)

	tbls := make([]string, 0, len(truncates))
	for _, c := range truncates {
		tbls = append(tbls, c.Table)
	}

	assert.Contains(t, tbls, "analytics.dim_customers")
	assert.Contains(t, tbls, "analytics.dim_products")
	assert.Equal(t, "analytics.fact_sales", tbls[2])
}

func TestBuilder_FailedDimensionBlocksFact(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()
	warehouse.FailTableTimes("analytics.dim_customers", -1, assert.AnError)

	b := newBuilder(warehouse)

	err := b.Build(context.Background(), starModel(), runDate)

	var depErr *dimensional.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{"customers"}, depErr.Dimensions)
	assert.Contains(t, err.Error(), "customers")

	for _, c := range warehouse.Calls() {
		assert.NotContains(t, c.Query, "fact_sales", "fact must never be attempted")
		assert.NotEqual(t, "analytics.fact_sales", c.Table)
	}
}

func TestBuilder_TruncateAndLoadRetriedAsOneUnit(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()
	// First attempt fails at the insert; the retry must truncate again
	warehouse.FailExecuteContaining("dim_customers", 1, assert.AnError)

	b := newBuilder(warehouse)

	require.NoError(t, b.Build(context.Background(), starModel(), runDate))

	customerTruncates := 0
	for _, c := range warehouse.CallsOfKind("truncate") {
		if c.Table == "analytics.dim_customers" {
			customerTruncates++
		}
	}

	assert.Equal(t, 2, customerTruncates, "retry repeats the truncate, not just the insert")
}

func TestBuilder_UnreferencedDimensionFailureDoesNotBlockFact(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()
	warehouse.FailTableTimes("analytics.dim_products", -1, assert.AnError)

	model := starModel()
	model.Fact.DependsOn = []string{"customers"}

	b := newBuilder(warehouse)

	require.NoError(t, b.Build(context.Background(), model, runDate))

	executes := warehouse.CallsOfKind("execute")
	assert.Contains(t, executes[len(executes)-1].Query, "fact_sales")
}

func TestBuilder_DimensionsOnlyModel(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()

	model := starModel()
	model.Fact = nil

	b := newBuilder(warehouse)

	require.NoError(t, b.Build(context.Background(), model, runDate))
	assert.Len(t, warehouse.CallsOfKind("execute"), 2)
}

func TestBuilder_RejectsUnknownDependency(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()

	model := starModel()
	model.Fact.DependsOn = []string{"stores"}

	b := newBuilder(warehouse)

	err := b.Build(context.Background(), model, runDate)
	require.ErrorIs(t, err, tables.ErrUnknownDimension)
	assert.Empty(t, warehouse.Calls(), "invalid models never touch the warehouse")
}

func TestBuilder_RendersRunDateVariables(t *testing.T) {
	warehouse := testutil.NewFakeWarehouse()

	model := &tables.ModelConfig{
		Dimensions: []tables.DimensionConfig{
			{Name: "dates", Transform: "INSERT INTO {{ .self.table }} VALUES ('{{ .run.date }}')"},
		},
	}

	b := newBuilder(warehouse)

	require.NoError(t, b.Build(context.Background(), model, runDate))

	executes := warehouse.CallsOfKind("execute")
	require.Len(t, executes, 1)
	assert.True(t, strings.Contains(executes[0].Query, "2024-01-03"), "run date rendered into the transform")
}
