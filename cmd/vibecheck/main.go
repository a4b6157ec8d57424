package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yourorg/vibecheck/internal/config"
	"github.com/yourorg/vibecheck/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "vibecheck",
	Short: "Security assessments for repositories and live web targets",
	Long: `vibecheck runs lightweight static scans over repositories or inline files and
robust HTTP probes against deployed targets, stores the findings and explains
them on demand.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		loadDotenv()
		level := os.Getenv("LOG_LEVEL")
		if cmd.Flags().Changed("log-level") || level == "" {
			level = logLevel
		}
		format := os.Getenv("LOG_FORMAT")
		if cmd.Flags().Changed("log-format") || format == "" {
			format = logFormat
		}
		logging.Init(logging.ParseLevel(level), format)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.Version = version
}

// loadDotenv fills unset variables from .env files so local runs pick up
// their settings. Missing files are ignored.
func loadDotenv() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var threshold *thresholdError
		if !errors.As(err, &threshold) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
