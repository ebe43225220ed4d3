package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alfredjeanlab/atlasgrid/internal/config"
	ledgersync "github.com/alfredjeanlab/atlasgrid/internal/sync"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the ledger as JSONL",
	Long: `Write every space state and occupancy interval in the ledger as JSON
lines: a header record, then one "space" record per zone, then one "interval"
record per occupancy in entry order. Reads the ledger configured by the
ATLASGRID_* environment directly, so no server needs to be running.`,
	GroupID:           "ledger",
	Args:              cobra.NoArgs,
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Ledger == config.LedgerMemory {
			return fmt.Errorf("the memory ledger lives inside a running server; use ATLASGRID_LEDGER=postgres")
		}
		ledger, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer ledger.Close()

		var w io.Writer = os.Stdout
		if out, _ := cmd.Flags().GetString("out"); out != "" && out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := ledgersync.ExportJSONL(context.Background(), ledger, w); err != nil {
			return fmt.Errorf("exporting ledger: %w", err)
		}
		if f, ok := w.(*os.File); ok && f != os.Stdout {
			return f.Sync()
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
}
