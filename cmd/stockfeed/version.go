package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/stockfeed/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("StockFeed version %s\n", common.GetFullVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
