package main

import (
	"fmt"

	"github.com/juju/clock"
	"github.com/spf13/cobra"
	"github.com/ternarybob/stockfeed/internal/common"
	"github.com/ternarybob/stockfeed/internal/docstore"
	"github.com/ternarybob/stockfeed/internal/refresher"
	"github.com/ternarybob/stockfeed/internal/snapshot"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Write a CSV snapshot of every configured database",
	Long: `Reads the current collection of each configured database and writes it
to <snapshot dir>/<market state>/<prefix>_<timestamp>.csv. Exits non-zero when
the store is unreachable or no database produced a snapshot.`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	logger := common.SetupLogger(config, common.LoggerOptions{Name: "refresh", Console: true})
	ctx := cmd.Context()

	store, err := docstore.Dial(ctx, docstore.NewDialConfig(&config.Mongo), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to document store")
		return err
	}
	defer store.Close()

	r, err := refresher.New(ctx, store, refresher.Config{
		Databases:        config.Mongo.Databases,
		CollectionPrefix: config.Mongo.CollectionPrefix,
		Layout:           snapshot.NewLayout(&config.Snapshot),
		Clock:            clock.WallClock,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Document store not ready")
		return err
	}

	summary := r.RefreshAll(ctx)

	logger.Info().
		Str("status", string(summary.Status)).
		Int("succeeded", summary.Succeeded()).
		Int("databases", len(summary.Results)).
		Msg("Refresh finished")

	if !summary.OK() {
		if summary.Err != nil {
			return fmt.Errorf("refresh aborted: %w", summary.Err)
		}
		return fmt.Errorf("refresh %s, %d of %d databases written", summary.Status, summary.Succeeded(), len(config.Mongo.Databases))
	}
	return nil
}
