package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ethpandaops/strata/pkg/server"
	"github.com/ethpandaops/strata/pkg/tasks"
	"github.com/ethpandaops/strata/pkg/worker"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a worker service",
	Long: `Workers consume queued table pipeline and model build tasks. Run as
many as the warehouse can stand; per-table queues keep one table's work
serialized.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
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

	// Workers share the run-scoped fingerprint cache through task payload
	// run IDs; the orchestrator here runs one table at a time per task
	orch := rt.orchestrator("")
	results := tasks.NewResultStore(rt.redisClient)
	handler := tasks.NewTaskHandler(logger, orch, rt.tables, results)

	svc, err := worker.NewService(logger, &config.Worker, rt.tables, handler, redisOpt)
	if err != nil {
		return err
	}

	return server.NewServer(logger, &config.Server, svc).Run(ctx)
}
