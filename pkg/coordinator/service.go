// Package coordinator fans a run out to workers: it enqueues one task per
// table, barriers on their completion, and only then enqueues the shared
// dimensional build
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/strata/pkg/clickhouse"
	"github.com/ethpandaops/strata/pkg/orchestrator"
	"github.com/ethpandaops/strata/pkg/retry"
	"github.com/ethpandaops/strata/pkg/tables"
	"github.com/ethpandaops/strata/pkg/tasks"
)

// Enqueuer is the queue surface the coordinator needs
type Enqueuer interface {
	EnqueueTable(payload tasks.TablePayload, opts ...asynq.Option) error
	EnqueueModelBuild(payload tasks.ModelPayload, opts ...asynq.Option) error
}

// ResultReader reads worker-reported table outcomes
type ResultReader interface {
	GetTable(ctx context.Context, runID, table string) (*orchestrator.TableResult, bool, error)
}

// RunSummary is one coordinated run's outcome
type RunSummary struct {
	RunID        string                         `json:"run_id"`
	RunDate      time.Time                      `json:"run_date"`
	Tables       map[string]orchestrator.Status `json:"tables"`
	ModelQueued  bool                           `json:"model_queued"`
	ModelSkipped bool                           `json:"model_skipped"`
}

// Service defines the public interface for the coordinator service
type Service interface {
	// Start runs the periodic scheduling loop until Stop
	Start(ctx context.Context) error

	// Stop gracefully shuts down the coordinator
	Stop() error

	// RunOnce coordinates a single run for the given date
	RunOnce(ctx context.Context, runDate time.Time) (*RunSummary, error)

	// LastRun returns the most recent run summary, ok=false before the
	// first run settles
	LastRun() (*RunSummary, bool)
}

type service struct {
	log    logrus.FieldLogger
	config *Config

	tables  *tables.Config
	queue   Enqueuer
	results ResultReader
	client  clickhouse.ClientInterface

	clock  clockwork.Clock
	policy retry.Policy

	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	lastRun *RunSummary
}

// Option configures the coordinator service
type Option func(*service)

// WithClock overrides the scheduling clock
func WithClock(c clockwork.Clock) Option {
	return func(s *service) { s.clock = c }
}

// WithRetryPolicy overrides the schema bootstrap retry policy
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *service) { s.policy = p }
}

// NewService creates a coordinator service
func NewService(logger logrus.FieldLogger, cfg *Config, tablesCfg *tables.Config, queue Enqueuer, results ResultReader, client clickhouse.ClientInterface, opts ...Option) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := tablesCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid table configuration: %w", err)
	}

	s := &service{
		log:     logger.WithField("service", "coordinator"),
		config:  cfg,
		tables:  tablesCfg,
		queue:   queue,
		results: results,
		client:  client,
		clock:   clockwork.NewRealClock(),
		policy:  retry.DefaultPolicy(),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start runs the scheduling loop: one coordinated run immediately, then one
// per interval
func (s *service) Start(ctx context.Context) error {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		for {
			runDate := s.clock.Now().UTC()

			if _, err := s.RunOnce(ctx, runDate); err != nil {
				s.log.WithError(err).Error("Coordinated run failed")
			}

			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-s.clock.After(s.config.Interval):
			}
		}
	}()

	s.log.WithField("interval", s.config.Interval).Info("Coordinator service started")

	return nil
}

// Stop gracefully shuts down the coordinator
func (s *service) Stop() error {
	close(s.done)
	s.wg.Wait()

	s.log.Info("Coordinator service stopped")

	return nil
}

// RunOnce coordinates one run: schema bootstrap, fan-out, barrier, model
func (s *service) RunOnce(ctx context.Context, runDate time.Time) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:   uuid.NewString(),
		RunDate: runDate,
		Tables:  make(map[string]orchestrator.Status, len(s.tables.Tables)),
	}

	log := s.log.WithField("run_id", summary.RunID)

	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	for i := range s.tables.Tables {
		payload := tasks.TablePayload{
			RunID:      summary.RunID,
			Table:      s.tables.Tables[i].Name,
			RunDate:    runDate,
			EnqueuedAt: s.clock.Now().UTC(),
		}

		if err := s.queue.EnqueueTable(payload); err != nil {
			return nil, fmt.Errorf("failed to enqueue table %s: %w", payload.Table, err)
		}
	}

	log.WithField("tables", len(s.tables.Tables)).Info("Table tasks enqueued")

	defer func() {
		s.mu.Lock()
		s.lastRun = summary
		s.mu.Unlock()
	}()

	if err := s.awaitTables(ctx, summary); err != nil {
		return summary, err
	}

	return summary, s.maybeEnqueueModel(summary, log)
}

// LastRun returns the most recent run summary
func (s *service) LastRun() (*RunSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastRun, s.lastRun != nil
}

// ensureSchema applies configured DDL before any worker touches the tables
func (s *service) ensureSchema(ctx context.Context) error {
	statements := make([]string, 0, len(s.tables.Schema.Raw)+len(s.tables.Schema.Model))
	statements = append(statements, s.tables.Schema.Raw...)
	statements = append(statements, s.tables.Schema.Model...)

	for _, ddl := range statements {
		stmt := ddl

		err := retry.Do(ctx, s.clock, s.policy, func(ctx context.Context) error {
			_, execErr := s.client.Execute(ctx, stmt)
			return execErr
		})
		if err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}

	return nil
}

// awaitTables polls worker-reported results until every table settled or the
// completion timeout elapsed
func (s *service) awaitTables(ctx context.Context, summary *RunSummary) error {
	deadline := s.clock.Now().Add(s.config.CompletionTimeout)

	pending := make(map[string]struct{}, len(s.tables.Tables))
	for i := range s.tables.Tables {
		pending[s.tables.Tables[i].Name] = struct{}{}
	}

	for len(pending) > 0 {
		for table := range pending {
			result, ok, err := s.results.GetTable(ctx, summary.RunID, table)
			if err != nil {
				return err
			}

			if ok {
				summary.Tables[table] = result.Status
				delete(pending, table)
			}
		}

		if len(pending) == 0 {
			break
		}

		if s.clock.Now().After(deadline) {
			return fmt.Errorf("%w: %d table(s) outstanding", ErrCompletionTimeout, len(pending))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.config.PollInterval):
		}
	}

	return nil
}

// maybeEnqueueModel enqueues the dimensional build once, and only when at
// least one table loaded
func (s *service) maybeEnqueueModel(summary *RunSummary, log logrus.FieldLogger) error {
	if len(s.tables.Model.Dimensions) == 0 && s.tables.Model.Fact == nil {
		return nil
	}

	anyDone := false

	for _, status := range summary.Tables {
		if status == orchestrator.StatusDone {
			anyDone = true
			break
		}
	}

	if !anyDone {
		summary.ModelSkipped = true
		log.Warn("Skipping dimensional build, no table loaded")

		return nil
	}

	payload := tasks.ModelPayload{
		RunID:      summary.RunID,
		RunDate:    summary.RunDate,
		EnqueuedAt: s.clock.Now().UTC(),
	}

	if err := s.queue.EnqueueModelBuild(payload); err != nil {
		return fmt.Errorf("failed to enqueue model build: %w", err)
	}

	summary.ModelQueued = true
	log.Info("Dimensional build enqueued")

	return nil
}

// Ensure service implements the interface
var _ Service = (*service)(nil)
