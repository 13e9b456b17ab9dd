// Command foundry drives AI manufacturing work items through a project's
// board workflow, with cached project configuration and quality gates.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/foundry/internal/config"
	"github.com/steveyegge/foundry/internal/telemetry"
)

var (
	// Version is set at build time.
	Version = "dev"

	jsonOutput  bool
	verboseFlag bool
	logJSON     bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	logger     *slog.Logger
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs to stderr as JSON")

	rootCmd.AddGroup(&cobra.Group{ID: "items", Title: "Work Items:"})
	rootCmd.AddGroup(&cobra.Group{ID: "cache", Title: "Configuration Cache:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Diagnostics:"})
}

var rootCmd = &cobra.Command{
	Use:           "foundry",
	Short:         "foundry - AI manufacturing workflow for tracker boards",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		logger = newLogger(verboseFlag, logJSON)
		slog.SetDefault(logger)

		if err := config.Initialize(); err != nil {
			return err
		}
		if err := telemetry.Init(rootCtx, "foundry", Version); err != nil {
			logger.Warn("telemetry disabled", "err", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdown()
	},
}

// osExit is swapped in tests.
var osExit = os.Exit

// shutdown releases the app, flushes telemetry, and cancels the root
// context. It is safe to call more than once.
func shutdown() {
	closeApp()
	telemetry.Shutdown(context.Background())
	if rootCancel != nil {
		rootCancel()
	}
}

// exit ends the process with code. PersistentPostRun does not run after
// os.Exit, so exit shuts down first.
func exit(code int) {
	shutdown()
	osExit(code)
}

var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: "setup",
	Short:   "Print the foundry version",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			outputJSON(map[string]string{"version": Version})
			return
		}
		fmt.Printf("foundry version %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func newLogger(verbose, asJSON bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}
