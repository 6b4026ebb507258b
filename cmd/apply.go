package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopsheet/shopsheet/internal/utils"
	"github.com/shopsheet/shopsheet/pkg/apply"
	"github.com/shopsheet/shopsheet/pkg/backup"
	"github.com/shopsheet/shopsheet/pkg/changeset"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var applyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Write the accepted changes of a sheet to the shop",
	Long: `Apply writes the accepted changes in batches and checkpoints after each one.
Interrupt it with Ctrl+C and run the same command again to resume.
A CSV backup of every listing about to change is written first unless --no-backup is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acceptFlag, _ := cmd.Flags().GetString("accept")
		backupDir, _ := cmd.Flags().GetString("backup-dir")
		noBackup, _ := cmd.Flags().GetBool("no-backup")
		accepted := changeset.ParseAccepted(acceptFlag)
		if !accepted.IsAll() && len(accepted.IDs()) == 0 {
			return errors.New("--accept needs \"all\" or a comma separated list of change ids")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lock, err := utils.NewDBLock(viper.GetString("storage.dbpath"))
		if err != nil {
			return err
		}
		if err := lock.Lock(ctx); err != nil {
			return err
		}
		defer lock.Unlock()

		cat, err := newCatalog(cmd)
		if err != nil {
			return err
		}
		store, audit, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if !noBackup {
			resp, err := newPreviewEngine(cat).Preview(ctx, data)
			if err != nil {
				return err
			}
			path, n, err := backup.Export(ctx, cat, resp, accepted, backupDir, backup.WithLogger(utils.Log))
			if err != nil {
				return fmt.Errorf("backup failed, nothing was applied (use --no-backup to skip it): %w", err)
			}
			utils.Log.Infof("Backed up %d listing(s) to %s", n, path)
		}

		started := time.Now()
		res, err := newApplyEngine(cat, store, audit).Apply(ctx, data, accepted, func(processed, total, failed int) {
			fmt.Fprintf(os.Stderr, "\rApplied %s/%s (%d failed)", humanize.Comma(int64(processed)), humanize.Comma(int64(total)), failed)
		})
		fmt.Fprintln(os.Stderr)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				utils.Log.Warn("Interrupted; run the same command again to resume")
			}
			return err
		}

		printApplyResult(res, started)
		if len(res.Failed) > 0 {
			return fmt.Errorf("%d listing(s) failed; run the same command again to retry them", len(res.Failed))
		}
		return nil
	},
}

func printApplyResult(res *apply.Result, started time.Time) {
	if res.Resumed {
		utils.Log.Infof("Resumed run %s: %d change(s) were already done", res.RunID, res.Skipped)
	}
	for _, warn := range res.Warnings {
		utils.Log.Warn(warn)
	}
	utils.Log.Infof("Processed %s of %s change(s) in %s: %d succeeded, %d created, %d failed",
		humanize.Comma(int64(res.Processed)), humanize.Comma(int64(res.Total)),
		time.Since(started).Round(time.Second), len(res.Succeeded), len(res.Created), len(res.Failed))

	if len(res.Failed) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANGE\tLISTING\tTITLE\tERROR")
	for _, f := range res.Failed {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", f.ChangeID, f.ListingID, utils.Truncate(f.Title, 40), f.Error)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringP("accept", "a", "all", `Changes to apply: "all" or ids from preview, e.g. change_1,change_4`)
	applyCmd.Flags().String("backup-dir", "backups", "Directory for the pre-apply CSV backup")
	applyCmd.Flags().Bool("no-backup", false, "Skip the pre-apply backup")
}
