package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/ternarybob/stockfeed/internal/common"
)

var (
	configPaths []string // Repeatable -c/--config, later files override earlier ones
	serverPort  int
	serverHost  string
)

var rootCmd = &cobra.Command{
	Use:   "stockfeed",
	Short: "StockFeed - prediction data supervisor and API",
	Long: `StockFeed keeps CSV snapshots of the published prediction collections
up to date and serves them over HTTP. The supervise command starts the API,
polls for changes with detect and runs refresh when the data changed.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configPaths, "config", "c", nil, "Configuration file path (repeatable)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")
}

// loadConfig applies defaults, config files, environment and flags in that order
func loadConfig() (*common.Config, error) {
	paths := configPaths
	if len(paths) == 0 {
		if _, err := os.Stat("stockfeed.toml"); err == nil {
			paths = []string{"stockfeed.toml"}
		} else if _, err := os.Stat("deployments/local/stockfeed.toml"); err == nil {
			paths = []string{"deployments/local/stockfeed.toml"}
		}
	}

	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)

	if config.Logging.Dir != "" {
		common.CrashLogDir = config.Logging.Dir
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// childArgs repeats the flags this process was started with so spawned
// subcommands resolve the same configuration
func childArgs() []string {
	var args []string
	for _, path := range configPaths {
		args = append(args, "--config", path)
	}
	if serverPort > 0 {
		args = append(args, "--port", strconv.Itoa(serverPort))
	}
	if serverHost != "" {
		args = append(args, "--host", serverHost)
	}
	return args
}

func main() {
	defer common.RecoverWithCrashFile("stockfeed")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
