// Package validation checks landed source data before it is allowed
// downstream
package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/strata/pkg/objectstore"
	"github.com/ethpandaops/strata/pkg/reporting"
	"github.com/ethpandaops/strata/pkg/tables"
)

// Static errors
var (
	// ErrSourceUnreadable is returned when the source reference cannot be
	// read at all, as opposed to readable-but-bad data which is reported in
	// the Result
	ErrSourceUnreadable = errors.New("source data unreadable")
)

// defaultSampleSize bounds how many rows are read for validation
const defaultSampleSize = 1000

// Result is the outcome of one validation invocation. Never mutated after
// creation.
type Result struct {
	TotalRows       int  `json:"total_rows"`
	MissingPK       bool `json:"missing_pk"`
	DataTypesMatch  bool `json:"data_types_match"`
	NullCheckPassed bool `json:"null_check_passed"`
}

// Passed reports whether the table may proceed to loading
func (r Result) Passed() bool {
	return r.NullCheckPassed
}

// Gate validates a source object against a table configuration
type Gate interface {
	Validate(ctx context.Context, sourcePath string, config *tables.TableConfig) (Result, error)
}

// gate implements Gate over an object store sample
type gate struct {
	log        logrus.FieldLogger
	store      objectstore.Store
	publisher  reporting.Publisher
	sampleSize int
}

// NewGate creates a validation gate. The publisher receives a per-table
// validation report and may be nil.
func NewGate(logger logrus.FieldLogger, store objectstore.Store, publisher reporting.Publisher) Gate {
	return &gate{
		log:        logger.WithField("service", "validation"),
		store:      store,
		publisher:  publisher,
		sampleSize: defaultSampleSize,
	}
}

// Validate reads a bounded sample and assesses it. The source is never
// mutated. TotalRows comes from the source's own row-count metadata, not
// the sample.
func (g *gate) Validate(ctx context.Context, sourcePath string, config *tables.TableConfig) (Result, error) {
	sample, err := g.store.GetSample(ctx, sourcePath, g.sampleSize)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, sourcePath, err)
	}

	result := Result{
		TotalRows:       sample.TotalRows,
		DataTypesMatch:  columnTypesConsistent(sample),
		NullCheckPassed: true,
	}

	for _, pk := range config.PrimaryKeyColumns {
		if hasNulls(sample, pk) {
			result.MissingPK = true
			result.NullCheckPassed = false

			g.log.WithFields(logrus.Fields{
				"table":  config.Name,
				"column": pk,
			}).Error("Found null values in primary key column")
		}
	}

	reporting.Publish(ctx, g.log, g.publisher,
		reporting.ValidationKey(config.Name),
		reporting.ValidationReport(config.Name, result.TotalRows, result.MissingPK, result.DataTypesMatch, result.NullCheckPassed),
	)

	return result, nil
}

// hasNulls reports whether any sampled row has a missing or null value in
// the column
func hasNulls(ds *objectstore.Dataset, column string) bool {
	for _, row := range ds.Rows {
		v, ok := row[column]
		if !ok || v == nil {
			return true
		}
	}

	return false
}

// columnTypesConsistent checks that every column holds a single value type
// across the sample, ignoring nulls
func columnTypesConsistent(ds *objectstore.Dataset) bool {
	types := make(map[string]string, len(ds.Columns))

	for _, row := range ds.Rows {
		for col, v := range row {
			if v == nil {
				continue
			}

			kind := fmt.Sprintf("%T", v)
			if prev, seen := types[col]; seen && prev != kind {
				return false
			}

			types[col] = kind
		}
	}

	return true
}
