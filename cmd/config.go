package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopsheet/shopsheet/internal/utils"
	"github.com/shopsheet/shopsheet/pkg/apply"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopsheet/shopsheet/pkg/preview"
	"github.com/shopsheet/shopsheet/pkg/storage"
	"github.com/shopsheet/shopsheet/pkg/whttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envKeyReplacer maps etsy.api_key to SHOPSHEET_ETSY_API_KEY.
var envKeyReplacer = strings.NewReplacer(".", "_")

func newCatalog(cmd *cobra.Command) (*etsy.Client, error) {
	proxy, _ := cmd.Flags().GetString("proxy")
	return etsy.NewClient(etsy.Options{
		BaseURL: viper.GetString("etsy.base_url"),
		ShopID:  viper.GetInt64("etsy.shop_id"),
		APIKey:  viper.GetString("etsy.api_key"),
		Token:   viper.GetString("etsy.token"),
		HTTP: whttp.Config{
			RetryMax:          viper.GetInt("etsy.retries"),
			RequestsPerSecond: viper.GetFloat64("etsy.requests_per_second"),
			Burst:             viper.GetInt("etsy.burst"),
			Timeout:           viper.GetDuration("etsy.timeout"),
			Proxy:             proxy,
			Log:               utils.Log,
		},
	})
}

// openStore opens the configured checkpoint backend. The audit log is only
// available with SQLite and is nil otherwise.
func openStore(ctx context.Context) (storage.ProgressStore, storage.AuditLog, error) {
	switch backend := viper.GetString("storage.backend"); backend {
	case "", "sqlite":
		path, err := utils.GetAbsDBPath(viper.GetString("storage.dbpath"))
		if err != nil {
			return nil, nil, err
		}
		db, err := storage.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening checkpoint database %s: %w", path, err)
		}
		return db, db, nil
	case "redis":
		rs, err := storage.OpenRedis(ctx, viper.GetString("redis.addr"), viper.GetString("redis.password"), viper.GetInt("redis.db"))
		if err != nil {
			return nil, nil, err
		}
		return rs, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q (want sqlite or redis)", backend)
	}
}

func newPreviewEngine(cat etsy.Catalog) *preview.Engine {
	return &preview.Engine{
		Catalog:     cat,
		Concurrency: viper.GetInt("apply.prefetch_concurrency"),
		Log:         utils.Log,
	}
}

func newApplyEngine(cat etsy.Catalog, store storage.ProgressStore, audit storage.AuditLog) *apply.Engine {
	return &apply.Engine{
		Catalog:             cat,
		Store:               store,
		Audit:               audit,
		BatchSize:           viper.GetInt("apply.batch_size"),
		PrefetchConcurrency: viper.GetInt("apply.prefetch_concurrency"),
		BatchDelay:          viper.GetDuration("apply.batch_delay"),
		Defaults: apply.CreateDefaults{
			TaxonomyID:       viper.GetInt64("defaults.taxonomy_id"),
			ReadinessStateID: viper.GetInt64("defaults.readiness_state_id"),
		},
		Log: utils.Log,
	}
}
