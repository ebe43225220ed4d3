package main

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/atlasgrid/internal/client"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the atlasgrid service",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := occupancyClient.Health(context.Background())
		if h == nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if perr := printJSON(h); perr != nil {
				return perr
			}
		} else {
			printHealth(h)
		}

		if h.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", h.Status)
		}
		return nil
	},
}

func printHealth(h *client.Health) {
	fmt.Printf("Health: %s\n", h.Status)
	fmt.Printf("Spaces: %d (%d stale)\n", h.Spaces, h.Stale)
	if h.LastSync != nil {
		fmt.Printf("Last Sync: %s\n", formatTime(*h.LastSync))
	}
	if h.SyncError != "" {
		fmt.Printf("Sync Error: %s\n", h.SyncError)
	}
}
