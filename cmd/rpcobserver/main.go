package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rpcobserver/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rpcobserver",
	Short: "Observe an EVM chain through a pool of failover JSON-RPC endpoints",
	Long: `rpcobserver keeps a pool of JSON-RPC endpoints, retries reads across
them with cooldown and backoff, and exposes block and balance watchers
that only poll while something listens.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("rpcobserver version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "path to config file (yaml or json)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(probeCmd)
}

// loadConfig reads the file named by --config and sets up the logger
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Debug().Str("config", path).Int("endpoints", len(cfg.Endpoints)).Msg("config loaded")
	return cfg, logger, nil
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || logLevel == zerolog.NoLevel {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
