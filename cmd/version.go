package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Build information, set at link time
//
//nolint:gochecknoglobals // Set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("strata %s\n", Version)
		cmd.Printf("  commit:     %s\n", GitCommit)
		cmd.Printf("  built:      %s\n", BuildDate)
		cmd.Printf("  go version: %s\n", runtime.Version())
		cmd.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
