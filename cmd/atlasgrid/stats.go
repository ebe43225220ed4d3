package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show lot occupancy totals",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		section, _ := cmd.Flags().GetString("section")
		st, err := occupancyClient.Stats(context.Background(), section)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		if jsonOutput {
			return printJSON(st)
		}
		printStats(os.Stdout, st)
		return nil
	},
}

func init() {
	statsCmd.Flags().String("section", "", "restrict totals to one section")
}
