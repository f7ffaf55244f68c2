package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/juju/clock"
	"github.com/spf13/cobra"
	"github.com/ternarybob/stockfeed/internal/common"
	"github.com/ternarybob/stockfeed/internal/detector"
	"github.com/ternarybob/stockfeed/internal/docstore"
	"github.com/ternarybob/stockfeed/internal/fingerprint"
	"github.com/ternarybob/stockfeed/internal/models"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Compare the current data with the last fingerprint",
	Long: `Prints exactly one line to stdout: YES_CHANGED, NO_CHANGED or ERROR.
Logs go to the detect log file only. The exit code is always 0; the
supervisor reads the token.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := bufio.NewWriter(os.Stdout)
		defer out.Flush()
		fmt.Fprintln(out, runDetect(cmd.Context()))
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(ctx context.Context) (signal models.Signal) {
	defer func() {
		if r := recover(); r != nil {
			common.WriteCrashFile("detect", r, common.GetStackTrace())
			signal = models.SignalError
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "detect: %v\n", err)
		return models.SignalError
	}

	logger := common.SetupLogger(config, common.LoggerOptions{Name: "detect", Console: false})

	dial := docstore.NewDialConfig(&config.Mongo)
	// The detector retries the whole read; each open dials once.
	dial.Retry = common.RetryPolicy{Attempts: 1}

	d := detector.New(
		docstore.NewOpener(dial, logger),
		fingerprint.NewFile(config.Fingerprint.Path),
		detector.Config{
			Databases:        config.Mongo.Databases,
			CollectionPrefix: config.Mongo.CollectionPrefix,
			Retry:            common.NewRetryPolicy(config.Mongo.RetryAttempts, config.Mongo.RetryDelay),
			Clock:            clock.WallClock,
		},
		logger,
	)

	signal, err = d.Detect(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Change detection failed")
	}
	logger.Info().Str("signal", signal.String()).Msg("Change detection finished")
	return signal
}
