package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ethpandaops/strata/pkg/objectstore"
)

// MemoryStore is an in-memory objectstore.Store for tests
type MemoryStore struct {
	mu       sync.Mutex
	datasets map[string]*objectstore.Dataset
	failures map[string]error
}

// NewMemoryStore creates an empty in-memory object store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		datasets: make(map[string]*objectstore.Dataset),
		failures: make(map[string]error),
	}
}

// PutDataset registers a dataset under a path
func (m *MemoryStore) PutDataset(path string, ds *objectstore.Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.datasets[path] = ds
}

// PutRows registers rows under a path with TotalRows = len(rows)
func (m *MemoryStore) PutRows(path string, rows []objectstore.Row) {
	m.PutDataset(path, &objectstore.Dataset{Rows: rows, TotalRows: len(rows)})
}

// FailPath makes reads of path return the given error
func (m *MemoryStore) FailPath(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures[path] = err
}

func (m *MemoryStore) lookup(path string) (*objectstore.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failures[path]; ok {
		return nil, err
	}

	ds, ok := m.datasets[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objectstore.ErrObjectNotFound, path)
	}

	return ds, nil
}

// Get implements objectstore.Store
func (m *MemoryStore) Get(_ context.Context, path string) (*objectstore.Dataset, error) {
	return m.lookup(path)
}

// GetSample implements objectstore.Store
func (m *MemoryStore) GetSample(_ context.Context, path string, limit int) (*objectstore.Dataset, error) {
	ds, err := m.lookup(path)
	if err != nil {
		return nil, err
	}

	rows := ds.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	return &objectstore.Dataset{Columns: ds.Columns, Rows: rows, TotalRows: ds.TotalRows}, nil
}

// Iterate implements objectstore.Store
func (m *MemoryStore) Iterate(_ context.Context, path string, batchSize int) (objectstore.Iterator, error) {
	ds, err := m.lookup(path)
	if err != nil {
		return nil, err
	}

	return &memoryIterator{rows: ds.Rows, batchSize: batchSize}, nil
}

type memoryIterator struct {
	rows      []objectstore.Row
	batchSize int
	offset    int
}

func (it *memoryIterator) Next(_ context.Context) (*objectstore.Dataset, error) {
	if it.offset >= len(it.rows) {
		return nil, io.EOF
	}

	end := it.offset + it.batchSize
	if end > len(it.rows) {
		end = len(it.rows)
	}

	batch := it.rows[it.offset:end]
	it.offset = end

	return &objectstore.Dataset{Rows: batch, TotalRows: len(batch)}, nil
}

func (it *memoryIterator) Close() error { return nil }
