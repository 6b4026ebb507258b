package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/shopsheet/shopsheet/internal/utils"
	"github.com/shopsheet/shopsheet/pkg/preview"
	"github.com/shopsheet/shopsheet/pkg/reconcile"
	"github.com/spf13/cobra"
)

var previewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Show what applying a sheet would change",
	Long: `Compare every listing in the sheet with the live catalog and print the change-set.
Nothing is written. Use the change ids with "apply --accept".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		showUnchanged, _ := cmd.Flags().GetBool("unchanged")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		cat, err := newCatalog(cmd)
		if err != nil {
			return err
		}
		resp, err := newPreviewEngine(cat).Preview(cmd.Context(), data)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		printPreview(resp, showUnchanged)
		return nil
	},
}

func printPreview(resp *preview.Response, showUnchanged bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANGE\tTYPE\tLISTING\tTITLE\tDETAILS")
	for _, c := range resp.Changes {
		if c.Unchanged && !showUnchanged {
			continue
		}
		id := "-"
		if c.ListingID != 0 {
			id = fmt.Sprint(c.ListingID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ChangeID, c.Type, id, utils.Truncate(c.Title, 40), describe(c))
	}
	w.Flush()

	s := resp.Summary
	fmt.Printf("\n%s listing(s): %d to create, %d to update, %d to delete, %d unchanged",
		humanize.Comma(int64(s.Total)), s.Creates, s.Updates, s.Deletes, s.Unchanged)
	if s.Unavailable > 0 {
		fmt.Printf(", %d could not be compared", s.Unavailable)
	}
	fmt.Println()
}

func describe(c preview.Change) string {
	switch {
	case c.Unavailable:
		return "unavailable: " + c.Error
	case c.Error != "":
		return c.Error
	case c.Unchanged:
		return "no changes"
	}
	var parts []string
	for _, f := range c.Fields {
		if c.Type == preview.ChangeCreate {
			parts = append(parts, fmt.Sprintf("%s=%s", f.Field, utils.Truncate(f.After, 30)))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s -> %s", f.Field, utils.Truncate(f.Before, 20), utils.Truncate(f.After, 20)))
	}
	for _, v := range c.Variations {
		switch v.Kind {
		case reconcile.VariationAdded:
			parts = append(parts, "+"+v.Label)
		case reconcile.VariationDeleted:
			parts = append(parts, "-"+v.Label)
		default:
			parts = append(parts, "~"+v.Label)
		}
	}
	return strings.Join(parts, "; ")
}

func init() {
	rootCmd.AddCommand(previewCmd)
	previewCmd.Flags().Bool("json", false, "Print the full change-set as JSON")
	previewCmd.Flags().Bool("unchanged", false, "Also list listings without changes")
}
