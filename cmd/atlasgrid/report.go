package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:     "report",
	Short:   "Reports built from the occupancy ledger",
	GroupID: "ledger",
}

var peakHoursCmd = &cobra.Command{
	Use:   "peak-hours",
	Short: "Average vehicle entries per hour of the day",
	Long: `Average vehicle entries per hour of the day between 07:00 and 22:00,
over an inclusive range of dates. Without --from and --to the server reports
the last 7 days.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		for _, d := range []struct{ flag, v string }{{"from", from}, {"to", to}} {
			if d.v == "" {
				continue
			}
			if _, err := time.Parse(time.DateOnly, d.v); err != nil {
				return fmt.Errorf("--%s: want YYYY-MM-DD, got %q", d.flag, d.v)
			}
		}

		report, err := occupancyClient.PeakHours(context.Background(), from, to)
		if err != nil {
			return fmt.Errorf("getting peak hours: %w", err)
		}
		if jsonOutput {
			return printJSON(report)
		}
		printPeakHours(os.Stdout, report)
		return nil
	},
}

func init() {
	peakHoursCmd.Flags().String("from", "", "first day (YYYY-MM-DD)")
	peakHoursCmd.Flags().String("to", "", "last day (YYYY-MM-DD)")
	reportCmd.AddCommand(peakHoursCmd)
}
