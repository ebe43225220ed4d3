package main

import (
	"os"

	"github.com/alfredjeanlab/atlasgrid/internal/client"
	"github.com/alfredjeanlab/atlasgrid/internal/config"
	"github.com/alfredjeanlab/atlasgrid/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	authToken  string
	jsonOutput bool

	occupancyClient client.OccupancyClient
)

var rootCmd = &cobra.Command{
	Use:   "atlasgrid <command>",
	Short: "Parking occupancy monitor and ledger",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		occupancyClient = client.NewHTTPClient(serverURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if occupancyClient != nil {
			occupancyClient.Close()
		}
	},
	SilenceUsage: true,
}

// noClient overrides the root PersistentPreRunE for commands that never talk
// to a running server.
func noClient(cmd *cobra.Command, args []string) error { return nil }

func init() {
	cc := config.LoadClient()
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", cc.ServerURL, "atlasgrid HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", cc.AuthToken, "bearer token for the server")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "ledger", Title: "Ledger:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	if !ui.ShouldUseColor() {
		ui.ForceNoColor()
	}
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Views
	rootCmd.AddCommand(spacesCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchCmd)

	// Ledger
	rootCmd.AddCommand(intervalsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(exportCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(zonesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
