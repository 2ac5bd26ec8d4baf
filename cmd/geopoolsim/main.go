// Command geopoolsim drives a geometry pool on the software device with a deterministic stream of
// mesh registrations and removals, and reports how the vertex and index pools fragment.
package main

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	verbose    bool
	configPath string

	cliLog = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "geopoolsim",
	})
)

var rootCmd = &cobra.Command{
	Use:   "geopoolsim",
	Short: "Exercise a geometry pool on a software device",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			cliLog.SetLevel(log.DebugLevel)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug output, including pool logs")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML pool configuration (defaults are used when empty)")
}

// poolLogger is the structured logger handed to pools. Pool logs are only shown with --verbose.
func poolLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(os.Stderr))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		cliLog.Error("command failed", "err", err)
		os.Exit(1)
	}
}
