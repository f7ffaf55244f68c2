package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"
	"github.com/ternarybob/stockfeed/internal/common"
	"github.com/ternarybob/stockfeed/internal/interfaces"
	"github.com/ternarybob/stockfeed/internal/storage"
	"github.com/ternarybob/stockfeed/internal/supervisor"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Run the API and refresh snapshots when the data changes",
	Long: `Starts the API (refreshing snapshots first unless an API is already
listening), then runs detect on the configured interval or schedule and
refresh whenever detect reports a change. Stops the API on SIGINT/SIGTERM.`,
	RunE: runSupervise,
}

func init() {
	rootCmd.AddCommand(superviseCmd)
}

func runSupervise(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	logger := common.SetupLogger(config, common.LoggerOptions{Name: "supervise", Console: true})
	common.PrintBanner()

	sc, err := supervisor.NewConfig(config)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid supervisor configuration")
		return err
	}

	runner, err := supervisor.NewExecRunner(config.Supervisor.Executable, childArgs())
	if err != nil {
		return err
	}

	prober := supervisor.NewHTTPProber(
		config.Server.Host,
		config.Server.Port,
		config.Supervisor.HealthPath,
		common.ParseDurationOr(config.Supervisor.ProbeTimeout, 5*time.Second),
	)

	// Run history is best effort; the supervisor works without it.
	var runs interfaces.RunStorage
	manager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		logger.Warn().Err(err).Msg("Run history disabled")
	} else {
		defer manager.Close()
		runs = manager.RunStorage()
	}

	logger.Info().
		Str("executable", runner.Executable).
		Int("check_interval", config.Supervisor.CheckInterval).
		Str("schedule", config.Supervisor.Schedule).
		Strs("databases", config.Mongo.Databases).
		Msg("Supervisor starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := supervisor.New(sc, runner, prober, runs, clock.WallClock, logger)
	if err := s.Run(ctx); err != nil {
		if errors.Is(err, supervisor.ErrStartup) {
			logger.Error().Err(err).Msg("Startup failed, exiting")
		}
		return err
	}

	logger.Info().Msg("Supervisor stopped")
	return nil
}
