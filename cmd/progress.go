package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopsheet/shopsheet/internal/utils"
	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Inspect and clean apply checkpoints",
}

var progressListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unfinished apply runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		all, err := store.ListProgress(cmd.Context())
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Println("No unfinished apply runs.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tRUN\tDONE\tFAILED\tSTARTED\tUPDATED")
		for _, p := range all {
			done := len(p.Succeeded) + len(p.Created)
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\t%s\n",
				shortHash(p.FileHash), p.RunID, done, p.TotalUnits, len(p.Failed),
				humanize.Time(p.StartedAt), humanize.Time(p.UpdatedAt))
		}
		return w.Flush()
	},
}

var progressCleanCmd = &cobra.Command{
	Use:   "clean [file-hash]",
	Short: "Delete stale checkpoints, or the one of a given file hash",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			if err := store.DeleteProgress(cmd.Context(), args[0]); err != nil {
				return err
			}
			utils.Log.Infof("Deleted checkpoint %s", args[0])
			return nil
		}

		n, err := store.PruneProgress(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		utils.Log.Infof("Deleted %d checkpoint(s) not updated for %s", n, olderThan)
		return nil
	},
}

var progressHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the most recent listing writes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, audit, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()
		if audit == nil {
			return errors.New("apply history is only recorded with the sqlite storage backend")
		}

		outcomes, err := audit.ListRecentOutcomes(cmd.Context(), limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tRUN\tCHANGE\tLISTING\tACTION\tSTATUS\tERROR")
		for _, o := range outcomes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				humanize.Time(o.OccurredAt), o.RunID, o.ChangeID, o.ListingID, o.Action, o.Status, utils.Truncate(o.Error, 60))
		}
		return w.Flush()
	},
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func init() {
	rootCmd.AddCommand(progressCmd)
	progressCmd.AddCommand(progressListCmd)
	progressCmd.AddCommand(progressCleanCmd)
	progressCmd.AddCommand(progressHistoryCmd)

	progressCleanCmd.Flags().Duration("older-than", 7*24*time.Hour, "Delete checkpoints not updated for this long")
	progressHistoryCmd.Flags().IntP("limit", "n", 20, "Number of entries to show")
}
