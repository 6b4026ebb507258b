package cmd

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopsheet/shopsheet/internal/server"
	"github.com/shopsheet/shopsheet/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// checkpointMaxAge matches the Redis key TTL so both backends forget
// abandoned runs after the same time.
const checkpointMaxAge = 7 * 24 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API",
	Long:  `Serve the preview, apply, backup and export operations over HTTP for the dashboard.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("bind")
		user, _ := cmd.Flags().GetString("username")
		pass, _ := cmd.Flags().GetString("password")
		pruneEvery, _ := cmd.Flags().GetString("prune-every")
		if addr == "" {
			addr = viper.GetString("server.bind")
		}
		if user == "" {
			user = viper.GetString("server.username")
		}
		if pass == "" {
			pass = viper.GetString("server.password")
		}

		cat, err := newCatalog(cmd)
		if err != nil {
			return err
		}
		store, audit, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		c := cron.New()
		if _, err := c.AddFunc(pruneEvery, func() {
			n, err := store.PruneProgress(context.Background(), checkpointMaxAge)
			if err != nil {
				utils.Log.Errorf("Pruning checkpoints: %v", err)
				return
			}
			if n > 0 {
				utils.Log.Infof("Pruned %d stale checkpoint(s)", n)
			}
		}); err != nil {
			return err
		}
		c.Start()
		defer c.Stop()

		srv := server.New(cat, newPreviewEngine(cat), newApplyEngine(cat, store, audit), store, audit, user, pass)
		return srv.Start(addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("bind", "b", "", "Address to bind the server to (default server.bind)")
	serveCmd.Flags().StringP("username", "u", "", "Username for basic auth (optional)")
	serveCmd.Flags().StringP("password", "p", "", "Password for basic auth (optional)")
	serveCmd.Flags().String("prune-every", "@every 6h", "Cron schedule for deleting checkpoints older than 7 days")
}
