// Package orchestrator drives a full pipeline run: per-table validation,
// loading, and watermark advancement, followed by the dimensional model build
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/strata/pkg/clickhouse"
	"github.com/ethpandaops/strata/pkg/dimensional"
	"github.com/ethpandaops/strata/pkg/extractor"
	"github.com/ethpandaops/strata/pkg/fingerprint"
	"github.com/ethpandaops/strata/pkg/loader"
	"github.com/ethpandaops/strata/pkg/objectstore"
	"github.com/ethpandaops/strata/pkg/observability"
	"github.com/ethpandaops/strata/pkg/reporting"
	"github.com/ethpandaops/strata/pkg/retry"
	"github.com/ethpandaops/strata/pkg/tables"
	"github.com/ethpandaops/strata/pkg/validation"
	"github.com/ethpandaops/strata/pkg/watermark"
)

// Static errors
var (
	// ErrModelSkipped is set as the model error when every table failed and
	// the dimensional build was never attempted
	ErrModelSkipped = errors.New("dimensional build skipped: no table loaded successfully")
)

// schemaLabel is the metrics table label for run-level schema steps
const schemaLabel = "_schema"

// TerminalFailure is a step failure that exhausted its retries or was
// permanent; the table transitions to Failed
type TerminalFailure struct {
	Table string
	Step  string
	Err   error
}

func (e *TerminalFailure) Error() string {
	return fmt.Sprintf("table %s failed at step %s: %v", e.Table, e.Step, e.Err)
}

func (e *TerminalFailure) Unwrap() error { return e.Err }

// TableResult is one table's outcome for the run
type TableResult struct {
	Status     Status            `json:"status"`
	Validation validation.Result `json:"validation"`
	Metrics    loader.Metrics    `json:"metrics"`
	Watermark  string            `json:"watermark,omitempty"`
	Err        error             `json:"-"`
}

// RunResult summarizes a whole run
type RunResult struct {
	RunDate  time.Time               `json:"run_date"`
	Tables   map[string]*TableResult `json:"tables"`
	ModelErr error                   `json:"-"`
}

// Failed returns the tables that ended in Failed, sorted by iteration order
// of the run configuration
func (r *RunResult) Failed() []string {
	var failed []string

	for name, res := range r.Tables {
		if res.Status == StatusFailed {
			failed = append(failed, name)
		}
	}

	return failed
}

// Err aggregates the run outcome: nil only when every table finished without
// failing and the model build succeeded. Quality-flagged tables do not fail
// the run.
func (r *RunResult) Err() error {
	if failed := r.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d table(s) failed", len(failed))
	}

	return r.ModelErr
}

// Deps are the orchestrator's collaborators. Cache and Publisher may be nil.
type Deps struct {
	Gate       validation.Gate
	Extractor  *extractor.Extractor
	Loader     *loader.Loader
	Builder    *dimensional.Builder
	Watermarks watermark.Store
	Client     clickhouse.ClientInterface
	Store      objectstore.Store
	Publisher  reporting.Publisher
	Cache      *fingerprint.Cache
}

// Orchestrator owns the run state machine
type Orchestrator struct {
	log         logrus.FieldLogger
	deps        Deps
	clock       clockwork.Clock
	policy      retry.Policy
	concurrency int
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithConcurrency bounds how many tables are processed in parallel
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRetryPolicy sets the policy applied uniformly around every step
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithClock overrides the clock used for backoff and durations
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// New creates an orchestrator
func New(logger logrus.FieldLogger, deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:         logger.WithField("service", "orchestrator"),
		deps:        deps,
		clock:       clockwork.NewRealClock(),
		policy:      retry.DefaultPolicy(),
		concurrency: 4,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run executes one full pipeline run for the given date: schema bootstrap,
// every configured table concurrently (bounded), then the dimensional model
// once all tables have settled. One table's failure never stops the others.
func (o *Orchestrator) Run(ctx context.Context, config *tables.Config, runDate time.Time) (*RunResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	result := &RunResult{
		RunDate: runDate,
		Tables:  make(map[string]*TableResult, len(config.Tables)),
	}

	if err := o.EnsureSchema(ctx, &config.Schema); err != nil {
		return nil, err
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	sem := make(chan struct{}, o.concurrency)

	for i := range config.Tables {
		table := &config.Tables[i]

		wg.Add(1)

		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			res := o.processTable(ctx, table, runDate)

			mu.Lock()
			result.Tables[table.Name] = res
			mu.Unlock()
		}()
	}

	// All table loads settle before the shared model is touched
	wg.Wait()

	result.ModelErr = o.buildModel(ctx, config, result, runDate)

	return result, nil
}

// RunTable executes a single table's pipeline. Used by workers processing
// one table per task; Run uses the same path for every configured table.
func (o *Orchestrator) RunTable(ctx context.Context, config *tables.TableConfig, runDate time.Time) *TableResult {
	return o.processTable(ctx, config, runDate)
}

// RunModel builds the dimensional model without the per-run skip logic.
// Callers that track table outcomes themselves decide whether to invoke it.
func (o *Orchestrator) RunModel(ctx context.Context, config *tables.Config, runDate time.Time) error {
	if o.deps.Builder == nil {
		return nil
	}

	return o.deps.Builder.Build(ctx, &config.Model, runDate)
}

// EnsureSchema executes the configured DDL before any load. Statements are
// fingerprinted so an already-applied statement is skipped on re-runs within
// the same run.
func (o *Orchestrator) EnsureSchema(ctx context.Context, schema *tables.SchemaConfig) error {
	statements := make([]string, 0, len(schema.Raw)+len(schema.Model))
	statements = append(statements, schema.Raw...)
	statements = append(statements, schema.Model...)

	for _, ddl := range statements {
		stmt := ddl

		_, _, err := runStep(ctx, o, schemaLabel, "ensure_schema", []interface{}{stmt},
			func(ctx context.Context) (struct{}, error) {
				_, execErr := o.deps.Client.Execute(ctx, stmt)
				return struct{}{}, execErr
			})
		if err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}

	return nil
}

// processTable walks one table through the state machine. Failures are
// absorbed into the result; nothing escapes to sibling tables.
func (o *Orchestrator) processTable(ctx context.Context, config *tables.TableConfig, runDate time.Time) *TableResult {
	res := &TableResult{Status: StatusPending}
	log := o.log.WithField("table", config.Name)

	defer func() {
		observability.TablesTotal.WithLabelValues(string(res.Status)).Inc()
	}()

	sourcePath := config.SourcePath(runDate)

	res.Status = StatusValidating

	vres, cached, err := runStep(ctx, o, config.Name, "validate",
		[]interface{}{config.Name, sourcePath},
		func(ctx context.Context) (validation.Result, error) {
			return o.deps.Gate.Validate(ctx, sourcePath, config)
		})
	if err != nil {
		return o.fail(res, config.Name, "validate", err)
	}

	res.Validation = vres

	if cached {
		log.Debug("Validation result served from fingerprint cache")
	}

	if !vres.Passed() {
		res.Status = StatusQualityFlagged

		reporting.Publish(ctx, log, o.deps.Publisher,
			reporting.QualityKey(config.Name),
			reporting.QualityReport(config.Name, o.clock.Now()),
		)

		log.Warn("Table flagged for data quality, load withheld")

		return res
	}

	res.Status = StatusLoading

	if config.IsIncremental() {
		err = o.loadIncremental(ctx, config, sourcePath, res)
	} else {
		err = o.loadFull(ctx, config, sourcePath, res)
	}

	if err != nil {
		return o.fail(res, config.Name, "load", err)
	}

	res.Status = StatusDone

	log.WithFields(logrus.Fields{
		"processed": res.Metrics.Processed,
		"watermark": res.Watermark,
	}).Info("Table pipeline complete")

	return res
}

// loadIncremental extracts rows beyond the watermark, loads them, and only
// then advances the cursor. A crash between load and advance re-delivers the
// batch on the next run; the upsert path absorbs the duplicates.
func (o *Orchestrator) loadIncremental(ctx context.Context, config *tables.TableConfig, sourcePath string, res *TableResult) error {
	extraction, err := retry.DoValue(ctx, o.clock, o.policy, func(ctx context.Context) (*extractor.Extraction, error) {
		return o.deps.Extractor.Extract(ctx, sourcePath, config)
	})
	if err != nil {
		return err
	}

	if extraction.Dataset.IsEmpty() {
		o.log.WithField("table", config.Name).Info("No new rows beyond watermark")
		return nil
	}

	metrics, _, err := runStep(ctx, o, config.Name, "load",
		[]interface{}{config.Name, sourcePath, extraction.Since, extraction.NextWatermark, extraction.Dataset.Len()},
		func(ctx context.Context) (loader.Metrics, error) {
			return o.deps.Loader.Load(ctx, extraction.Dataset, config)
		})

	res.Metrics.Add(metrics)

	if err != nil {
		return err
	}

	return o.advanceWatermark(ctx, config, extraction.NextWatermark, res)
}

// loadFull streams the entire source object into the raw table
func (o *Orchestrator) loadFull(ctx context.Context, config *tables.TableConfig, sourcePath string, res *TableResult) error {
	metrics, _, err := runStep(ctx, o, config.Name, "load",
		[]interface{}{config.Name, sourcePath},
		func(ctx context.Context) (loader.Metrics, error) {
			return o.deps.Loader.LoadFromStore(ctx, o.deps.Store, sourcePath, config)
		})

	res.Metrics.Add(metrics)

	return err
}

// advanceWatermark moves the cursor forward under the table lock, never
// backward. Concurrent units racing on the same table settle on the maximum.
func (o *Orchestrator) advanceWatermark(ctx context.Context, config *tables.TableConfig, next string, res *TableResult) error {
	if next == "" {
		return nil
	}

	return o.deps.Watermarks.WithTableLock(ctx, config.Name, func(ctx context.Context) error {
		current, ok, err := o.deps.Watermarks.Get(ctx, config.Name, config.IncrementalColumn)
		if err != nil {
			return err
		}

		if ok && !watermark.Less(current.Value, next) {
			res.Watermark = current.Value
			return nil
		}

		if err := o.deps.Watermarks.Set(ctx, config.Name, config.IncrementalColumn, next); err != nil {
			return err
		}

		res.Watermark = next
		recordWatermarkGauge(config.Name, next)

		return nil
	})
}

// buildModel runs the dimensional build after the join barrier. Skipped when
// no table loaded anything, since the model would only restate stale data.
func (o *Orchestrator) buildModel(ctx context.Context, config *tables.Config, result *RunResult, runDate time.Time) error {
	if o.deps.Builder == nil || (len(config.Model.Dimensions) == 0 && config.Model.Fact == nil) {
		return nil
	}

	anyDone := false

	for _, res := range result.Tables {
		if res.Status == StatusDone {
			anyDone = true
			break
		}
	}

	if !anyDone {
		o.log.Warn("Skipping dimensional build")
		return ErrModelSkipped
	}

	if err := o.deps.Builder.Build(ctx, &config.Model, runDate); err != nil {
		o.log.WithError(err).Error("Dimensional build failed")
		return err
	}

	return nil
}

// fail records a terminal failure on the result
func (o *Orchestrator) fail(res *TableResult, table, step string, err error) *TableResult {
	res.Status = StatusFailed
	res.Err = &TerminalFailure{Table: table, Step: step, Err: err}

	o.log.WithError(err).WithFields(logrus.Fields{
		"table": table,
		"step":  step,
	}).Error("Table pipeline failed")

	return res
}

// runStep executes one pipeline step: fingerprint-memoized, retried under
// the run policy, and instrumented. Only successful results are memoized.
func runStep[T any](ctx context.Context, o *Orchestrator, table, name string, inputs []interface{}, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	fp, err := fingerprint.Compute(name, inputs...)
	if err != nil {
		var zero T
		return zero, false, err
	}

	start := o.clock.Now()

	result, cached, err := fingerprint.Memoize(ctx, o.deps.Cache, fp, func(ctx context.Context) (T, error) {
		attempt := 0

		return retry.DoValue(ctx, o.clock, o.policy, func(ctx context.Context) (T, error) {
			attempt++
			if attempt > 1 {
				observability.RetriesTotal.WithLabelValues(table, name).Inc()
			}

			return fn(ctx)
		})
	})

	status := "success"

	switch {
	case err != nil:
		status = "failed"
	case cached:
		status = "cached"
	}

	observability.StepsTotal.WithLabelValues(table, name, status).Inc()
	observability.StepDuration.WithLabelValues(table, name).Observe(o.clock.Since(start).Seconds())

	return result, cached, err
}

// recordWatermarkGauge exports the watermark when it parses as a timestamp
func recordWatermarkGauge(table, value string) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			observability.WatermarkTimestamp.WithLabelValues(table).Set(float64(t.Unix()))
			return
		}
	}
}
