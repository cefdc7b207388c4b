package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tslive/internal/config"
	"github.com/fakeyudi/tslive/internal/session"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

var (
	plainOutput bool
	debugLog    bool
	settleDelay time.Duration
)

// logFile is the diagnostics log opened for the panel; closed after the run.
var logFile io.Closer

var rootCmd = &cobra.Command{
	Use:   "tslive",
	Short: "Run a JavaScript or TypeScript file and restart it when sources change",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded

		if cmd.Flags().Changed("settle-delay") {
			cfg.SettleDelay = config.Duration(settleDelay)
		}

		return setupLogging(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logFile != nil {
			err := logFile.Close()
			logFile = nil
			return err
		}
		return nil
	},
}

// setupLogging installs the default slog logger. The panel owns the
// terminal, so diagnostics go to a JSON file in the data directory; plain
// mode writes text to stderr, quietly unless --debug is set.
func setupLogging(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if debugLog {
		level = slog.LevelDebug
	}

	if plainOutput {
		if !debugLog {
			level = slog.LevelWarn
		}
		handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(handler))
		return nil
	}

	dir, err := session.DataDir()
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "tslive.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	logFile = f
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})))
	return nil
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "stream output to the terminal instead of the log panel")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug diagnostics")
	rootCmd.PersistentFlags().DurationVar(&settleDelay, "settle-delay", 100*time.Millisecond, "wait this long after a file change before restarting")
}
