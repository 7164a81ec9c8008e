package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-cli/internal/export"
	"github.com/sells-group/invoice-cli/internal/vendor"
)

var exportCmd = &cobra.Command{
	Use:   "export <batch>",
	Short: "Write a batch's records to an XLSX workbook",
	Long:  "Writes one row per extracted record, corrections applied, in the vendor's column order.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		b, err := resolveBatch(ctx, st, args[0])
		if err != nil {
			return err
		}
		profile, err := vendor.DefaultRegistry().Lookup(b.VendorID)
		if err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("out")
		if path == "" {
			path = export.BatchPath(cfg.Export.Dir, b)
		}
		n, err := export.Batch(ctx, st, profile, b.ID, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Wrote %d rows to %s\n", n, path)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output path (default <export.dir>/<batch name>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
