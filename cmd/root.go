// Package cmd holds the supplierd command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/camden-git/supplierresolver/config"
	"github.com/camden-git/supplierresolver/logging"
)

var (
	logLevel  string
	logFormat string
	envFile   string
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "supplierd",
	Short: "Supplier entity resolution service",
	Long: `supplierd maps the many spellings of a supplier name seen in emails,
purchase orders and invoices onto one canonical supplier record.

Run without a subcommand to start the HTTP server.`,
	PersistentPreRunE: setupCommand,
	SilenceUsage:      true,
	RunE:              runServe,
}

// Execute runs the root command with signal-aware context.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (auto, json, console); overrides LOG_FORMAT")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
}

func setupCommand(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(envFile); err != nil {
		logging.Default().Debug().Err(err).Str("file", envFile).Msg("no .env file loaded")
	}

	loaded, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	if logFormat != "" {
		loaded.LogFormat = logFormat
	}
	logging.Configure(loaded.LogLevel, loaded.LogFormat)
	cfg = loaded

	logger := logging.Default()
	cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
	return nil
}
