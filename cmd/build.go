package cmd

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/strata/pkg/clickhouse"
	"github.com/ethpandaops/strata/pkg/dimensional"
	"github.com/ethpandaops/strata/pkg/extractor"
	"github.com/ethpandaops/strata/pkg/fingerprint"
	"github.com/ethpandaops/strata/pkg/loader"
	"github.com/ethpandaops/strata/pkg/objectstore"
	"github.com/ethpandaops/strata/pkg/orchestrator"
	"github.com/ethpandaops/strata/pkg/reporting"
	"github.com/ethpandaops/strata/pkg/tables"
	"github.com/ethpandaops/strata/pkg/validation"
	"github.com/ethpandaops/strata/pkg/watermark"
)

// appRuntime bundles the shared collaborators every command wires up
type appRuntime struct {
	log    *logrus.Logger
	config *AppConfig
	tables *tables.Config

	redisClient *goredis.Client
	warehouse   clickhouse.ClientInterface
	store       *objectstore.S3Store
	watermarks  watermark.Store
}

// newRuntime builds the shared runtime from configuration
func newRuntime(ctx context.Context, logger *logrus.Logger, config *AppConfig) (*appRuntime, error) {
	tablesCfg, err := tables.LoadConfig(config.TablesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load table config: %w", err)
	}

	redisOpt, err := config.Redis.Options()
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	redisClient := goredis.NewClient(redisOpt)

	warehouse, err := clickhouse.NewClient(logger, &config.ClickHouse)
	if err != nil {
		return nil, err
	}

	if err := warehouse.Start(); err != nil {
		return nil, err
	}

	store, err := objectstore.NewS3Store(ctx, logger, &config.S3)
	if err != nil {
		return nil, err
	}

	return &appRuntime{
		log:         logger,
		config:      config,
		tables:      tablesCfg,
		redisClient: redisClient,
		warehouse:   warehouse,
		store:       store,
		watermarks:  watermark.NewRedisStore(logger, redisClient),
	}, nil
}

// orchestrator assembles the pipeline engine, fingerprint-scoped to runID
func (r *appRuntime) orchestrator(runID string) *orchestrator.Orchestrator {
	publisher := reporting.NewLogPublisher(r.log)

	var cache *fingerprint.Cache
	if runID != "" {
		cache = fingerprint.NewCache(r.redisClient, runID)
	}

	deps := orchestrator.Deps{
		Gate:       validation.NewGate(r.log, r.store, publisher),
		Extractor:  extractor.NewExtractor(r.log, r.store, r.watermarks),
		Loader:     loader.NewLoader(r.log, r.warehouse, r.config.ClickHouse.RawDatabase),
		Builder:    dimensional.NewBuilder(r.log, r.warehouse, r.config.ClickHouse.RawDatabase, r.config.ClickHouse.ModelDatabase, dimensional.WithConcurrency(r.config.Concurrency), dimensional.WithRetryPolicy(r.config.Retry)),
		Watermarks: r.watermarks,
		Client:     r.warehouse,
		Store:      r.store,
		Publisher:  publisher,
		Cache:      cache,
	}

	return orchestrator.New(r.log, deps,
		orchestrator.WithConcurrency(r.config.Concurrency),
		orchestrator.WithRetryPolicy(r.config.Retry),
	)
}

// close releases the runtime's connections
func (r *appRuntime) close() {
	if err := r.warehouse.Stop(); err != nil {
		r.log.WithError(err).Error("Failed to stop warehouse client")
	}

	if err := r.redisClient.Close(); err != nil {
		r.log.WithError(err).Error("Failed to close redis client")
	}
}
