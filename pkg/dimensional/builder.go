// Package dimensional builds the star-schema model from raw tables:
// dimensions first, the fact table only after every dimension succeeded
package dimensional

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/heimdalr/dag"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/strata/pkg/clickhouse"
	"github.com/ethpandaops/strata/pkg/retry"
	"github.com/ethpandaops/strata/pkg/tables"
)

// factVertex is the fact table's vertex ID in the dependency graph
const factVertex = "fact"

// DependencyError blocks the fact load when referenced dimensions failed
type DependencyError struct {
	Dimensions []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("fact load blocked by failed dimensions: %s", strings.Join(e.Dimensions, ", "))
}

// Builder loads the dimensional model
type Builder struct {
	log           logrus.FieldLogger
	client        clickhouse.ClientInterface
	engine        *tables.TemplateEngine
	rawDatabase   string
	modelDatabase string
	clock         clockwork.Clock
	policy        retry.Policy
	concurrency   int
}

// Option configures a Builder
type Option func(*Builder)

// WithConcurrency bounds how many dimensions load in parallel
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithRetryPolicy overrides the per-dimension retry policy
func WithRetryPolicy(p retry.Policy) Option {
	return func(b *Builder) { b.policy = p }
}

// WithClock overrides the backoff clock
func WithClock(c clockwork.Clock) Option {
	return func(b *Builder) { b.clock = c }
}

// NewBuilder creates a dimensional model builder
func NewBuilder(logger logrus.FieldLogger, client clickhouse.ClientInterface, rawDatabase, modelDatabase string, opts ...Option) *Builder {
	b := &Builder{
		log:           logger.WithField("service", "dimensional"),
		client:        client,
		engine:        tables.NewTemplateEngine(),
		rawDatabase:   rawDatabase,
		modelDatabase: modelDatabase,
		clock:         clockwork.NewRealClock(),
		policy:        retry.DefaultPolicy(),
		concurrency:   4,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Build runs the two ordered phases: every dimension's truncate-then-load
// (independent dimensions in parallel, bounded), then the fact table once
// all dimensions have reported success. Each dimension's truncate+load is a
// single recoverable unit, retried wholesale.
func (b *Builder) Build(ctx context.Context, model *tables.ModelConfig, runDate time.Time) error {
	if err := model.Validate(); err != nil {
		return err
	}

	if _, err := buildGraph(model); err != nil {
		return err
	}

	failed := b.loadDimensions(ctx, model, runDate)

	if model.Fact == nil {
		if len(failed) > 0 {
			return &DependencyError{Dimensions: failed}
		}

		return nil
	}

	blocked := blockedDependencies(model, failed)
	if len(blocked) > 0 {
		return &DependencyError{Dimensions: blocked}
	}

	return b.loadFact(ctx, model.Fact, runDate)
}

// loadDimensions runs Phase 1 and returns the names of failed dimensions
func (b *Builder) loadDimensions(ctx context.Context, model *tables.ModelConfig, runDate time.Time) []string {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)

	sem := make(chan struct{}, b.concurrency)

	for i := range model.Dimensions {
		dim := &model.Dimensions[i]

		select {
		case <-ctx.Done():
			// Stop scheduling new dimensions; in-flight ones finish cleanly
			mu.Lock()
			failed = append(failed, dim.Name)
			mu.Unlock()

			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := b.loadDimension(ctx, dim, runDate); err != nil {
				b.log.WithError(err).WithField("dimension", dim.Name).Error("Dimension load failed")

				mu.Lock()
				failed = append(failed, dim.Name)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	sort.Strings(failed)

	return failed
}

// loadDimension truncates and repopulates one dimension as a single unit
func (b *Builder) loadDimension(ctx context.Context, dim *tables.DimensionConfig, runDate time.Time) error {
	target := dim.TargetTable(b.modelDatabase)

	query, err := b.engine.Render(dim.Transform, b.engine.BuildVariables(b.rawDatabase, b.modelDatabase, target, runDate))
	if err != nil {
		return retry.Permanent(fmt.Errorf("dimension %s: %w", dim.Name, err))
	}

	return retry.Do(ctx, b.clock, b.policy, func(ctx context.Context) error {
		if err := b.client.Truncate(ctx, target); err != nil {
			return err
		}

		if _, err := b.client.Execute(ctx, query); err != nil {
			return err
		}

		b.log.WithField("dimension", dim.Name).Info("Dimension loaded")

		return nil
	})
}

// loadFact truncates and repopulates the fact table
func (b *Builder) loadFact(ctx context.Context, fact *tables.FactConfig, runDate time.Time) error {
	target := fact.TargetTable(b.modelDatabase)

	query, err := b.engine.Render(fact.Transform, b.engine.BuildVariables(b.rawDatabase, b.modelDatabase, target, runDate))
	if err != nil {
		return retry.Permanent(fmt.Errorf("fact %s: %w", fact.Name, err))
	}

	return retry.Do(ctx, b.clock, b.policy, func(ctx context.Context) error {
		if err := b.client.Truncate(ctx, target); err != nil {
			return err
		}

		if _, err := b.client.Execute(ctx, query); err != nil {
			return err
		}

		b.log.WithField("fact", fact.Name).Info("Fact table loaded")

		return nil
	})
}

// blockedDependencies intersects the fact's dependencies with the failed
// dimensions
func blockedDependencies(model *tables.ModelConfig, failed []string) []string {
	failedSet := make(map[string]struct{}, len(failed))
	for _, name := range failed {
		failedSet[name] = struct{}{}
	}

	var blocked []string

	for _, dep := range model.FactDependencies() {
		if _, ok := failedSet[dep]; ok {
			blocked = append(blocked, dep)
		}
	}

	sort.Strings(blocked)

	return blocked
}

// buildGraph validates the model as a DAG: one vertex per dimension, the
// fact depending on every referenced dimension
func buildGraph(model *tables.ModelConfig) (*dag.DAG, error) {
	graph := dag.NewDAG()

	for i := range model.Dimensions {
		if err := graph.AddVertexByID(model.Dimensions[i].Name, model.Dimensions[i].Name); err != nil {
			return nil, fmt.Errorf("invalid model graph: %w", err)
		}
	}

	if model.Fact != nil {
		if err := graph.AddVertexByID(factVertex, model.Fact.Name); err != nil {
			return nil, fmt.Errorf("invalid model graph: %w", err)
		}

		for _, dep := range model.FactDependencies() {
			if err := graph.AddEdge(dep, factVertex); err != nil {
				return nil, fmt.Errorf("invalid model graph: %w", err)
			}
		}
	}

	return graph, nil
}
