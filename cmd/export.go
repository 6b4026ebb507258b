package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/shopsheet/shopsheet/internal/utils"
	"github.com/shopsheet/shopsheet/pkg/backup"
	"github.com/shopsheet/shopsheet/pkg/sheet"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the shop's listings to a CSV or XLSX sheet",
	Long: `Export every listing in the given state, with its variations, to a sheet you can edit
and feed back to "preview" and "apply".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		if format != "csv" && format != "xlsx" {
			return fmt.Errorf("unknown format %q (want csv or xlsx)", format)
		}
		if output == "" {
			output = "listings_" + state + "." + format
		}

		cat, err := newCatalog(cmd)
		if err != nil {
			return err
		}
		listings, err := backup.FetchShop(cmd.Context(), cat, state, 0)
		if err != nil {
			return err
		}

		f, err := os.Create(output)
		if err != nil {
			return err
		}
		if format == "xlsx" {
			err = sheet.WriteXLSX(f, listings)
		} else {
			err = sheet.WriteCSV(f, listings)
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}

		var size uint64
		if fi, err := os.Stat(output); err == nil {
			size = uint64(fi.Size())
		}
		utils.Log.Infof("Exported %s %s listing(s) to %s (%s)", humanize.Comma(int64(len(listings))), state, output, humanize.Bytes(size))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("state", "s", "active", "Listing state to export (active, inactive, draft, expired, sold_out)")
	exportCmd.Flags().StringP("format", "f", "csv", "Output format: csv or xlsx")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default listings_<state>.<format>)")
}
