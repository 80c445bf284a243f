// httpscope CLI - issue instrumented requests and manage the capture
// directory from the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/httpscope/httpscope/pkg/config"
	"github.com/httpscope/httpscope/pkg/logging"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	captureDir string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "httpscope",
		Short:         "In-process HTTP(S) traffic capture",
		Long:          "httpscope observes outbound HTTP(S) exchanges, records them durably,\nand makes the captured traffic queryable.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "settings file (JSON or YAML)")
	root.PersistentFlags().StringVar(&flags.captureDir, "dir", "", "capture directory (overrides settings)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newRequestCmd(flags),
		newSweepCmd(flags),
		newClearCmd(flags),
		newVersionCmd(),
	)
	return root
}

// loadSettings resolves settings from the config file and flag overrides.
func (f *rootFlags) loadSettings() (*config.Settings, error) {
	settings := config.Default()
	if f.configPath != "" {
		loaded, err := config.LoadFromFile(f.configPath)
		if err != nil {
			return nil, err
		}
		settings = loaded
	}
	if f.captureDir != "" {
		settings.SetCaptureDir(f.captureDir)
	}
	return settings, nil
}

func (f *rootFlags) logger() *slog.Logger {
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(f.logLevel),
		Format: logging.FormatText,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("httpscope %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}
