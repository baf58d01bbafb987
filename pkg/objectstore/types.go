// Package objectstore provides access to landed source data in object storage
package objectstore

import (
	"context"
	"errors"
)

// Static errors
var (
	ErrObjectNotFound = errors.New("object not found")
)

// Row is a single source row keyed by column name
type Row = map[string]interface{}

// Dataset is an in-memory batch of source rows. TotalRows carries the
// source's own row-count metadata, which may exceed len(Rows) when the
// dataset is a bounded sample.
type Dataset struct {
	Columns   []string
	Rows      []Row
	TotalRows int
}

// Len returns the number of rows held in memory
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}

	return len(d.Rows)
}

// IsEmpty reports whether the dataset holds no rows
func (d *Dataset) IsEmpty() bool {
	return d.Len() == 0
}

// Iterator yields consecutive datasets of bounded size. Iteration is
// finite and single-pass; Next returns io.EOF when exhausted.
type Iterator interface {
	Next(ctx context.Context) (*Dataset, error)
	Close() error
}

// Store defines read access to the object store
type Store interface {
	// Get reads a full object as a dataset
	Get(ctx context.Context, path string) (*Dataset, error)

	// GetSample reads at most limit rows, with TotalRows reflecting the
	// whole object rather than the sample
	GetSample(ctx context.Context, path string, limit int) (*Dataset, error)

	// Iterate streams the object in datasets of at most batchSize rows
	Iterate(ctx context.Context, path string, batchSize int) (Iterator, error)
}
