package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/client"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/spf13/cobra"
)

var intervalsCmd = &cobra.Command{
	Use:     "intervals [interval-id]",
	Short:   "List occupancy intervals from the ledger",
	GroupID: "ledger",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if len(args) == 1 {
			iv, err := occupancyClient.GetInterval(ctx, args[0])
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("interval %q not found", args[0])
				}
				return fmt.Errorf("getting interval: %w", err)
			}
			if jsonOutput {
				return printJSON(iv)
			}
			printIntervalTable(os.Stdout, []*model.OccupancyInterval{iv})
			return nil
		}

		req := &client.ListIntervalsRequest{}
		req.SpaceID, _ = cmd.Flags().GetString("space")
		req.OpenOnly, _ = cmd.Flags().GetBool("open")
		req.VehiclesOnly, _ = cmd.Flags().GetBool("vehicles")
		req.Limit, _ = cmd.Flags().GetInt("limit")

		var err error
		if req.Since, err = flagTime(cmd, "since"); err != nil {
			return err
		}
		if req.Until, err = flagTime(cmd, "until"); err != nil {
			return err
		}

		ivs, err := occupancyClient.ListIntervals(ctx, req)
		if err != nil {
			return fmt.Errorf("listing intervals: %w", err)
		}
		if jsonOutput {
			return printJSON(ivs)
		}
		if len(ivs) == 0 {
			fmt.Println("No intervals found.")
			return nil
		}
		printIntervalTable(os.Stdout, ivs)
		return nil
	},
}

// flagTime parses a time flag given as RFC 3339, a local "YYYY-MM-DD" date,
// or a duration back from now such as "2h".
func flagTime(cmd *cobra.Command, name string) (*time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return nil, nil
	}
	t, err := parseWhen(v, time.Now())
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}

func parseWhen(v string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, v, time.Local); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("%q is not a time, date or duration", v)
}

func init() {
	intervalsCmd.Flags().String("space", "", "only intervals for this space")
	intervalsCmd.Flags().Bool("open", false, "only intervals that are still open")
	intervalsCmd.Flags().Bool("vehicles", false, "only vehicle intervals")
	intervalsCmd.Flags().String("since", "", "entered at or after (RFC 3339, YYYY-MM-DD or duration ago)")
	intervalsCmd.Flags().String("until", "", "entered before (RFC 3339, YYYY-MM-DD or duration ago)")
	intervalsCmd.Flags().Int("limit", 0, "maximum intervals to return (server default 100)")
}
