package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ethpandaops/strata/pkg/api"
	"github.com/ethpandaops/strata/pkg/coordinator"
	"github.com/ethpandaops/strata/pkg/redis"
	"github.com/ethpandaops/strata/pkg/server"
	"github.com/ethpandaops/strata/pkg/tasks"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Start the coordinator service",
	Long: `The coordinator enqueues one task per table per run, waits for the
workers to settle, and then enqueues the dimensional model build.`,
	RunE: runCoordinator,
}

func init() {
	rootCmd.AddCommand(coordinatorCmd)
}

func runCoordinator(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := LoadAppConfig(cfgFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(config.Logging)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	rt, err := newRuntime(ctx, logger, config)
	if err != nil {
		return err
	}
	defer rt.close()

	redisOpt, err := config.Redis.Options()
	if err != nil {
		return err
	}

	queue := tasks.NewQueueManager(redis.NewAsynqRedisOptions(redisOpt))
	defer func() {
		if closeErr := queue.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close queue manager")
		}
	}()

	results := tasks.NewResultStore(rt.redisClient)

	svc, err := coordinator.NewService(logger, &config.Coordinator, rt.tables, queue, results, rt.warehouse,
		coordinator.WithRetryPolicy(config.Retry))
	if err != nil {
		return err
	}

	apiSvc := api.NewService(&config.API, rt.tables, svc, rt.watermarks, logger)

	return server.NewServer(logger, &config.Server, svc, apiSvc).Run(ctx)
}
