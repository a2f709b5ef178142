// Package cli implements the era5ctl command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "era5ctl",
	Short: "Bulk downloader for ERA5-Land reanalysis data",
	Long: `era5ctl splits a variable/date-range request into monthly or yearly
tasks, downloads them in parallel from the Climate Data Store, verifies every
file and records the outcome so that interrupted runs resume where they stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var globalFlags struct {
	envFiles  []string
	outputDir string
	workers   int
	logLevel  string
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringSliceVar(&globalFlags.envFiles, "env-file", nil, "Load environment from these files (default .env)")
	pf.StringVarP(&globalFlags.outputDir, "output-dir", "o", "", "Output directory (overrides ERA5_OUTPUT_DIR)")
	pf.IntVarP(&globalFlags.workers, "workers", "w", 0, "Parallel downloads (overrides ERA5_WORKERS)")
	pf.StringVar(&globalFlags.logLevel, "log-level", "", "debug, info, warn or error (overrides ERA5_LOG_LEVEL)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
