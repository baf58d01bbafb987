package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/strata/pkg/clickhouse"
)

// WarehouseCall records one call against the fake warehouse
type WarehouseCall struct {
	Kind  string // execute, upsert, bulkload, truncate
	Table string
	Query string
	Rows  int
	At    time.Time
}

// FakeWarehouse is an in-memory clickhouse.ClientInterface that records
// calls and injects failures
type FakeWarehouse struct {
	mu    sync.Mutex
	calls []WarehouseCall

	tableFailures   map[string]*failureBudget
	executeFailures map[string]*failureBudget
	connErr         error
}

type failureBudget struct {
	remaining int // negative means fail forever
	err       error
}

func (b *failureBudget) take() error {
	if b == nil || b.remaining == 0 {
		return nil
	}

	if b.remaining > 0 {
		b.remaining--
	}

	return b.err
}

// NewFakeWarehouse creates an empty fake warehouse
func NewFakeWarehouse() *FakeWarehouse {
	return &FakeWarehouse{
		tableFailures:   make(map[string]*failureBudget),
		executeFailures: make(map[string]*failureBudget),
	}
}

// FailTableTimes makes the next n writes to table fail with err. n < 0
// fails forever.
func (f *FakeWarehouse) FailTableTimes(table string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tableFailures[table] = &failureBudget{remaining: n, err: err}
}

// FailExecuteContaining makes the next n Execute calls whose query contains
// substr fail with err. n < 0 fails forever.
func (f *FakeWarehouse) FailExecuteContaining(substr string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.executeFailures[substr] = &failureBudget{remaining: n, err: err}
}

// SetConnectionError makes every call fail with err until cleared with nil
func (f *FakeWarehouse) SetConnectionError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connErr = err
}

// Calls returns a copy of the recorded calls in order
func (f *FakeWarehouse) Calls() []WarehouseCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]WarehouseCall, len(f.calls))
	copy(out, f.calls)

	return out
}

// CallsOfKind returns recorded calls of one kind
func (f *FakeWarehouse) CallsOfKind(kind string) []WarehouseCall {
	var out []WarehouseCall

	for _, c := range f.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}

	return out
}

// UpsertedRows returns all rows upserted into a table, in call order
func (f *FakeWarehouse) UpsertedRows(table string) int {
	total := 0

	for _, c := range f.CallsOfKind("upsert") {
		if c.Table == table {
			total += c.Rows
		}
	}

	return total
}

func (f *FakeWarehouse) record(kind, table, query string, rows int) {
	f.calls = append(f.calls, WarehouseCall{
		Kind:  kind,
		Table: table,
		Query: query,
		Rows:  rows,
		At:    time.Now(),
	})
}

// QueryOne implements clickhouse.ClientInterface
func (f *FakeWarehouse) QueryOne(_ context.Context, query string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("queryone", "", query, 0)

	return f.connErr
}

// QueryMany implements clickhouse.ClientInterface
func (f *FakeWarehouse) QueryMany(_ context.Context, query string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("querymany", "", query, 0)

	return f.connErr
}

// Execute implements clickhouse.ClientInterface
func (f *FakeWarehouse) Execute(_ context.Context, query string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("execute", "", query, 0)

	if f.connErr != nil {
		return nil, f.connErr
	}

	for substr, budget := range f.executeFailures {
		if strings.Contains(query, substr) {
			if err := budget.take(); err != nil {
				return nil, err
			}
		}
	}

	return nil, nil
}

// Upsert implements clickhouse.ClientInterface
func (f *FakeWarehouse) Upsert(_ context.Context, table string, rows []clickhouse.Row, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("upsert", table, "", len(rows))

	if f.connErr != nil {
		return f.connErr
	}

	return f.tableFailures[table].take()
}

// BulkLoad implements clickhouse.ClientInterface
func (f *FakeWarehouse) BulkLoad(_ context.Context, table string, rows []clickhouse.Row) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("bulkload", table, "", len(rows))

	if f.connErr != nil {
		return 0, f.connErr
	}

	if err := f.tableFailures[table].take(); err != nil {
		return 0, err
	}

	return len(rows), nil
}

// Truncate implements clickhouse.ClientInterface
func (f *FakeWarehouse) Truncate(_ context.Context, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("truncate", table, "", 0)

	if f.connErr != nil {
		return f.connErr
	}

	return f.tableFailures[table].take()
}

// Start implements clickhouse.ClientInterface
func (f *FakeWarehouse) Start() error { return nil }

// Stop implements clickhouse.ClientInterface
func (f *FakeWarehouse) Stop() error { return nil }
