package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/stockfeed/internal/common"
	"github.com/ternarybob/stockfeed/internal/storage"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent supervisor runs",
	Long: `Prints the most recent supervisor cycles from the run-history store.
The store allows one process at a time, so stop the supervisor first.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	logger := common.SetupLogger(config, common.LoggerOptions{Name: "history", Console: false})

	manager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		return err
	}
	defer manager.Close()

	runs, err := manager.RunStorage().ListRecent(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tKIND\tDETECTION\tATTEMPTS\tREFRESH\tAPI\tDURATION\tERROR")
	for _, run := range runs {
		refresh := "-"
		if run.Refreshed {
			refresh = "failed"
			if run.RefreshOK {
				refresh = "ok"
			}
		}
		api := "-"
		switch {
		case run.APIAdopted:
			api = "adopted"
		case run.APIRestarted:
			api = "restarted"
		}
		detection := string(run.Detection)
		if detection == "" {
			detection = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Kind,
			detection,
			run.Attempts,
			refresh,
			api,
			run.Duration().Round(time.Millisecond),
			run.Error,
		)
	}
	return w.Flush()
}
