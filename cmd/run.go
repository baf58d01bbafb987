package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/strata/pkg/observability"
	"github.com/ethpandaops/strata/pkg/orchestrator"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	runDateFlag string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full pipeline run in-process",
	Long: `Runs every configured table through validation and loading, then
rebuilds the dimensional model, all inside a single process. Use the
coordinator and worker commands to spread the same run across machines.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runDateFlag, "date", "", "run date (YYYY-MM-DD, defaults to today)")
}

func runRun(cmd *cobra.Command, _ []string) error {
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

	runDate := time.Now().UTC()

	if runDateFlag != "" {
		runDate, err = time.Parse("2006-01-02", runDateFlag)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}

	ctx := cmd.Context()

	rt, err := newRuntime(ctx, logger, config)
	if err != nil {
		return err
	}
	defer rt.close()

	if config.Server.MetricsAddr != "" {
		observability.StartMetricsServer(config.Server.MetricsAddr)
	}

	runID := uuid.NewString()
	orch := rt.orchestrator(runID)

	logger.WithField("run_id", runID).WithField("run_date", runDate.Format("2006-01-02")).Info("Starting pipeline run")

	result, err := orch.Run(ctx, rt.tables, runDate)
	if err != nil {
		return err
	}

	for name, res := range result.Tables {
		entry := logger.WithField("table", name).WithField("status", res.Status)

		switch res.Status {
		case orchestrator.StatusDone:
			entry.WithField("processed", res.Metrics.Processed).Info("Table complete")
		case orchestrator.StatusQualityFlagged:
			entry.Warn("Table held back for data quality")
		default:
			entry.WithError(res.Err).Error("Table failed")
		}
	}

	return result.Err()
}
