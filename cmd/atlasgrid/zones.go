package main

import (
	"fmt"
	"os"

	"github.com/alfredjeanlab/atlasgrid/internal/config"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/alfredjeanlab/atlasgrid/internal/zone"
	"github.com/spf13/cobra"
)

var zonesCmd = &cobra.Command{
	Use:               "zones",
	Short:             "Inspect the parking zone layout file",
	GroupID:           "system",
	PersistentPreRunE: noClient,
}

var zonesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a zone layout file for errors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := zonesFile(cmd)
		reg, err := zone.LoadFile(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d zones OK\n", path, reg.Len())
		return nil
	},
}

var zonesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the zones in a layout file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := zone.LoadFile(zonesFile(cmd))
		if err != nil {
			return err
		}
		zones := reg.Zones()
		if jsonOutput {
			return printJSON(zones)
		}
		tw := newTable(os.Stdout)
		fmt.Fprintln(tw, "ZONE\tSECTION\tVERTICES\tBOUNDS")
		for _, z := range zones {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", z.ID, z.Section, len(z.Outline), formatBounds(z.Bounds()))
		}
		return tw.Flush()
	},
}

func formatBounds(b model.BBox) string {
	return fmt.Sprintf("(%g,%g)-(%g,%g)", b.X1, b.Y1, b.X2, b.Y2)
}

// zonesFile returns --file, falling back to ATLASGRID_ZONES_FILE.
func zonesFile(cmd *cobra.Command) string {
	if f, _ := cmd.Flags().GetString("file"); f != "" {
		return f
	}
	if v := os.Getenv("ATLASGRID_ZONES_FILE"); v != "" {
		return v
	}
	return config.DefaultZonesFile
}

func init() {
	zonesCmd.PersistentFlags().String("file", "", "zone layout file (default $ATLASGRID_ZONES_FILE or zones.toml)")
	zonesCmd.AddCommand(zonesValidateCmd)
	zonesCmd.AddCommand(zonesListCmd)
}
