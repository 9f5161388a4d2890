package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"TrendConfirm/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "trendconfirm",
	Short: "Two-level trend change confirmation for crypto bars",
	Long: `trendconfirm detects a trend change on 5m bars with a classifier (or
CUSUM when the model is unavailable), confirms it with a 1m CUSUM inside a
time window and publishes sized order intents.

Examples:
  trendconfirm run --config config/config.yaml
  trendconfirm replay --from 2024-06-01 --to 2024-06-08 --symbols BTCUSDT,ETHUSDT`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
