package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/stockfeed/internal/common"
	"github.com/ternarybob/stockfeed/internal/server"
	"github.com/ternarybob/stockfeed/internal/snapshot"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the latest snapshots over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	logger := common.SetupLogger(config, common.LoggerOptions{Name: "serve", Console: true})
	common.PrintBanner()

	logger.Info().
		Strs("config_files", configPaths).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Str("snapshot_dir", config.Snapshot.Dir).
		Msg("Application configuration loaded")

	for _, current := range snapshot.NewLayout(&config.Snapshot).CurrentSnapshots() {
		if current.Err != nil {
			logger.Warn().Err(current.Err).Str("market_state", current.Class).Msg("No snapshot available")
			continue
		}
		logger.Info().
			Str("market_state", current.Class).
			Str("path", current.Path).
			Str("modified", current.ModTime.Format(time.RFC3339)).
			Int64("size_bytes", current.Size).
			Msg("Serving snapshot")
	}

	srv := server.New(config, logger)

	errChan := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		errChan <- srv.Start()
	}, func(recovered interface{}) {
		errChan <- fmt.Errorf("server goroutine panicked: %v", recovered)
	})

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case err := <-errChan:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
			return err
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
		return err
	}

	logger.Info().Msg("Server stopped")
	return nil
}
