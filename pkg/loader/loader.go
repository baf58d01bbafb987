// Package loader upserts datasets into raw landing tables in bounded batches
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/strata/pkg/clickhouse"
	"github.com/ethpandaops/strata/pkg/objectstore"
	"github.com/ethpandaops/strata/pkg/observability"
	"github.com/ethpandaops/strata/pkg/tables"
)

// Metrics aggregates batch outcomes across all chunks of one load
type Metrics struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Add merges another load's metrics
func (m *Metrics) Add(other Metrics) {
	m.Processed += other.Processed
	m.Errors += other.Errors
}

// LoadError summarizes chunk failures after all chunks were attempted
type LoadError struct {
	Table       string
	FailedRows  int
	FailedChunk int
	Err         error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load failed for table %s: %d rows errored (first failing chunk %d): %v",
		e.Table, e.FailedRows, e.FailedChunk, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Transform is the table-specific in-flight row transformation
type Transform func(row objectstore.Row) objectstore.Row

// Loader writes datasets into raw tables in chunks of at most the table's
// batch size
type Loader struct {
	log         logrus.FieldLogger
	client      clickhouse.ClientInterface
	rawDatabase string
	transform   Transform
	clock       clockwork.Clock
}

// Option configures a Loader
type Option func(*Loader)

// WithTransform overrides the in-flight transformation
func WithTransform(t Transform) Option {
	return func(l *Loader) { l.transform = t }
}

// WithClock overrides the clock used for load timestamps
func WithClock(c clockwork.Clock) Option {
	return func(l *Loader) { l.clock = c }
}

// NewLoader creates a batch loader targeting the given raw database
func NewLoader(logger logrus.FieldLogger, client clickhouse.ClientInterface, rawDatabase string, opts ...Option) *Loader {
	l := &Loader{
		log:         logger.WithField("service", "loader"),
		client:      client,
		rawDatabase: rawDatabase,
		clock:       clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load partitions the dataset into consecutive chunks of at most
// config.BatchSize rows, preserving row order, and upserts each chunk keyed
// by the primary key columns. A chunk failure marks its rows as errored and
// the remaining chunks are still attempted, unless the warehouse connection
// itself is unusable. The connection is held per chunk, never across one.
func (l *Loader) Load(ctx context.Context, ds *objectstore.Dataset, config *tables.TableConfig) (Metrics, error) {
	var metrics Metrics

	if ds.IsEmpty() {
		return metrics, nil
	}

	target := config.RawTable(l.rawDatabase)
	chunks := Chunk(ds.Rows, config.BatchSize)

	var (
		firstFailedChunk = -1
		lastErr          error
	)

	for i, chunk := range chunks {
		transformed := l.applyTransform(chunk)

		err := l.client.Upsert(ctx, target, transformed, config.PrimaryKeyColumns)
		if err == nil {
			metrics.Processed += len(chunk)
			continue
		}

		metrics.Errors += len(chunk)
		lastErr = err

		if firstFailedChunk < 0 {
			firstFailedChunk = i
		}

		l.log.WithError(err).WithFields(logrus.Fields{
			"table": config.Name,
			"chunk": i,
			"rows":  len(chunk),
		}).Error("Batch chunk failed")

		if errors.Is(err, clickhouse.ErrConnectionUnusable) {
			// Remaining chunks cannot succeed; count them as errored
			for _, rest := range chunks[i+1:] {
				metrics.Errors += len(rest)
			}

			break
		}
	}

	observability.BatchRows.WithLabelValues(config.Name, "processed").Add(float64(metrics.Processed))
	observability.BatchRows.WithLabelValues(config.Name, "errored").Add(float64(metrics.Errors))

	if metrics.Errors > 0 {
		return metrics, &LoadError{
			Table:       config.Name,
			FailedRows:  metrics.Errors,
			FailedChunk: firstFailedChunk,
			Err:         lastErr,
		}
	}

	return metrics, nil
}

// LoadFromStore streams a full object through the loader in batches,
// aggregating metrics across the whole object
func (l *Loader) LoadFromStore(ctx context.Context, store objectstore.Store, path string, config *tables.TableConfig) (Metrics, error) {
	it, err := store.Iterate(ctx, path, config.BatchSize)
	if err != nil {
		return Metrics{}, err
	}
	defer it.Close()

	var (
		total   Metrics
		loadErr error
	)

	for {
		batch, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return total, err
		}

		metrics, err := l.Load(ctx, batch, config)
		total.Add(metrics)

		if err != nil {
			loadErr = err

			if errors.Is(err, clickhouse.ErrConnectionUnusable) {
				break
			}
		}
	}

	return total, loadErr
}

// applyTransform copies each row, applies the configured transformation,
// and stamps the ETL load timestamp
func (l *Loader) applyTransform(rows []objectstore.Row) []objectstore.Row {
	loadedAt := l.clock.Now().UTC().Format(time.RFC3339)
	out := make([]objectstore.Row, len(rows))

	for i, row := range rows {
		copied := make(objectstore.Row, len(row)+1)
		for k, v := range row {
			copied[k] = v
		}

		if l.transform != nil {
			copied = l.transform(copied)
		}

		copied["_etl_loaded_at"] = loadedAt
		out[i] = copied
	}

	return out
}

// Chunk splits rows into consecutive chunks of at most size rows,
// preserving order with no loss or duplication
func Chunk(rows []objectstore.Row, size int) [][]objectstore.Row {
	if size <= 0 || len(rows) == 0 {
		return nil
	}

	chunks := make([][]objectstore.Row, 0, (len(rows)+size-1)/size)

	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}

		chunks = append(chunks, rows[start:end])
	}

	return chunks
}
