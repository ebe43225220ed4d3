package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alfredjeanlab/atlasgrid/internal/client"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/spf13/cobra"
)

var spacesCmd = &cobra.Command{
	Use:     "spaces [space-id]",
	Short:   "Show the live status of parking spaces",
	GroupID: "views",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if len(args) == 1 {
			sp, err := occupancyClient.GetSpace(ctx, args[0])
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("space %q not found", args[0])
				}
				return fmt.Errorf("getting space: %w", err)
			}
			if jsonOutput {
				return printJSON(sp)
			}
			printSpaceDetail(os.Stdout, sp)
			return nil
		}

		section, _ := cmd.Flags().GetString("section")
		status, _ := cmd.Flags().GetString("status")
		grid, _ := cmd.Flags().GetBool("grid")
		if status != "" {
			if _, err := model.ParseStatus(status); err != nil {
				return err
			}
		}

		spaces, err := occupancyClient.ListSpaces(ctx, &client.ListSpacesRequest{Section: section, Status: status})
		if err != nil {
			return fmt.Errorf("listing spaces: %w", err)
		}
		switch {
		case jsonOutput:
			return printJSON(spaces)
		case len(spaces) == 0:
			fmt.Println("No spaces found.")
		case grid:
			printSpaceGrid(os.Stdout, spaces)
		default:
			printSpaceTable(os.Stdout, spaces)
		}
		return nil
	},
}

func init() {
	spacesCmd.Flags().String("section", "", "only spaces in this section")
	spacesCmd.Flags().String("status", "", "only spaces with this status (available, occupied, obstacle)")
	spacesCmd.Flags().Bool("grid", false, "compact one-glyph-per-space view")
}
